package models

import (
	"time"

	"gorm.io/gorm"
)

type Company struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Address   string    `gorm:"type:text;default:null" json:"address"`
	GstNumber string    `gorm:"size:50;default:null" json:"gst_number"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Customer struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Phone     string    `gorm:"size:20;default:null" json:"phone"`
	Address   string    `gorm:"type:text;default:null" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Car is the vehicle a delivery was loaded on.
type Car struct {
	ID          int       `gorm:"primary_key" json:"id"`
	PlateNumber string    `gorm:"size:50;not null" json:"plate_number"`
	DriverName  string    `gorm:"size:255;default:null" json:"driver_name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// recordExists reports whether a row of T with the given id is present.
func recordExists[T any](tx *gorm.DB, id int) (bool, error) {
	var count int64
	if err := tx.Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// resolveParties checks that the referenced company, customer and car exist.
func resolveParties(tx *gorm.DB, companyId, customerId int, carId *int) error {
	ok, err := recordExists[Company](tx, companyId)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Resource: "company", ID: companyId}
	}
	ok, err = recordExists[Customer](tx, customerId)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Resource: "customer", ID: customerId}
	}
	if carId != nil {
		ok, err = recordExists[Car](tx, *carId)
		if err != nil {
			return err
		}
		if !ok {
			return &NotFoundError{Resource: "car", ID: *carId}
		}
	}
	return nil
}
