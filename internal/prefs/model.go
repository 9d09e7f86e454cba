package prefs

import "time"

// Preferences is owned by the user-facing settings UI. The engine only ever
// reads it; a missing row means "all defaults".
type Preferences struct {
	UserID uint64 `gorm:"primaryKey"`

	EmailEnabled bool `gorm:"not null;default:true"`
	PushEnabled  bool `gorm:"not null;default:false"`
	InAppEnabled bool `gorm:"not null;default:true"`

	ApproachingOn  bool `gorm:"not null;default:true"`
	DayBeforeOn    bool `gorm:"not null;default:true"`
	DayOfOn        bool `gorm:"not null;default:true"`
	OverdueOn      bool `gorm:"not null;default:true"`
	WeeklyDigestOn bool `gorm:"not null;default:true"`

	ApproachingDays int `gorm:"not null;default:3"`

	Timezone string `gorm:"type:text;not null;default:''"`

	QuietEnabled bool   `gorm:"not null;default:false"`
	QuietStart   string `gorm:"type:text;not null;default:'22:00'"`
	QuietEnd     string `gorm:"type:text;not null;default:'08:00'"`

	// DigestDay follows time.Weekday numbering (0 = Sunday).
	DigestDay  int    `gorm:"not null;default:1"`
	DigestTime string `gorm:"type:text;not null;default:'09:00'"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}
