package settings

import (
	"context"
	"fmt"
	"sort"

	"github.com/pokerjest/torrentlink/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KV 扁平的 key-value 持久层，每次调用自身是原子的
type KV interface {
	Load(ctx context.Context, keys []string) (map[string]string, error)
	Store(ctx context.Context, values map[string]string) error
}

// GormKV 把设置存到 global_configs 表
type GormKV struct {
	DB *gorm.DB
}

func NewGormKV(db *gorm.DB) *GormKV {
	return &GormKV{DB: db}
}

func (g *GormKV) Load(ctx context.Context, keys []string) (map[string]string, error) {
	var configs []model.GlobalConfig
	// 一次取全，避免多次 First() 的作用域污染
	if err := g.DB.WithContext(ctx).Where("key IN ?", keys).Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	values := make(map[string]string, len(configs))
	for _, c := range configs {
		values[c.Key] = c.Value
	}
	return values, nil
}

func (g *GormKV) Store(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	rows := make([]model.GlobalConfig, 0, len(values))
	for k, v := range values {
		rows = append(rows, model.GlobalConfig{Key: k, Value: v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	// Upsert: 只覆盖本次给出的 key，其他 key 保持不变
	err := g.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	return nil
}
