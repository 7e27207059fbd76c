package models

// StatusEntry is one row of the status catalog lookup table.
type StatusEntry struct {
	ID           int    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name         string `gorm:"type:text;uniqueIndex;not null" json:"name"`
	IsTerminal   bool   `gorm:"not null" json:"is_terminal"`
	IsSuccess    bool   `gorm:"not null" json:"is_success"`
	DisplayOrder int    `gorm:"not null" json:"display_order"`
}

func (StatusEntry) TableName() string { return "status_catalog" }
