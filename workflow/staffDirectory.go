package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const elevatedStaffCacheKey = "ElevatedStaff"

// UserStaffDirectory reads elevated staff from the users table, cached in redis when available.
type UserStaffDirectory struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	CacheTTL time.Duration
}

func (d *UserStaffDirectory) ElevatedStaff(ctx context.Context) ([]int, error) {
	if d.CacheTTL > 0 {
		var cached []int
		found, err := config.GetRedisObject(elevatedStaffCacheKey, &cached)
		if err != nil {
			config.LogError(d.Logger, "StaffDirectory", "ElevatedStaff", "reading cache", nil, err)
		} else if found {
			return cached, nil
		}
	}

	ids, err := models.ListElevatedStaffIds(d.DB.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if d.CacheTTL > 0 {
		if err := config.SetRedisObject(elevatedStaffCacheKey, ids, d.CacheTTL); err != nil {
			config.LogError(d.Logger, "StaffDirectory", "ElevatedStaff", "writing cache", nil, err)
		}
	}
	return ids, nil
}

// InvalidateStaffCache drops the cached staff list after user or role changes.
func InvalidateStaffCache() error {
	return config.RemoveRedisKey(elevatedStaffCacheKey)
}
