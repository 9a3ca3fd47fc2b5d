package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 演示数据库 — 给 sql_query 一个开箱即用的查询目标。
// 对应 `domekit seed` 子命令。

// ActivityModel 演示活动记录
type ActivityModel struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"size:128;not null"`
	Category    string    `gorm:"size:64;index"`
	DurationMin int       `gorm:"not null"`
	RecordedAt  time.Time `gorm:"index"`
}

// TableName 指定表名
func (ActivityModel) TableName() string { return "activities" }

// NoteModel 演示笔记记录
type NoteModel struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"size:256;not null"`
	Body      string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName 指定表名
func (NoteModel) TableName() string { return "notes" }

// SeedDemoDB 创建（或补齐）演示 SQLite 数据库。
// 幂等：已有数据时不重复插入。返回写入的行数。
func SeedDemoDB(dbPath string) (int, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return 0, fmt.Errorf("open demo database: %w", err)
	}

	if err := db.AutoMigrate(&ActivityModel{}, &NoteModel{}); err != nil {
		return 0, fmt.Errorf("migrate demo database: %w", err)
	}

	var count int64
	if err := db.Model(&ActivityModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	activities := []ActivityModel{
		{Name: "Morning run", Category: "exercise", DurationMin: 32, RecordedAt: now.Add(-72 * time.Hour)},
		{Name: "Swim session", Category: "exercise", DurationMin: 45, RecordedAt: now.Add(-48 * time.Hour)},
		{Name: "Evening walk", Category: "exercise", DurationMin: 25, RecordedAt: now.Add(-24 * time.Hour)},
		{Name: "Meal prep", Category: "nutrition", DurationMin: 40, RecordedAt: now.Add(-20 * time.Hour)},
		{Name: "Meditation", Category: "recovery", DurationMin: 15, RecordedAt: now.Add(-4 * time.Hour)},
	}
	notes := []NoteModel{
		{Title: "Week goal", Body: "Three workouts and two swims this week."},
		{Title: "Recovery", Body: "Sleep before 23:00; stretch after runs."},
	}

	if err := db.Create(&activities).Error; err != nil {
		return 0, fmt.Errorf("seed activities: %w", err)
	}
	if err := db.Create(&notes).Error; err != nil {
		return 0, fmt.Errorf("seed notes: %w", err)
	}

	return len(activities) + len(notes), nil
}
