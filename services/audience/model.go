package audience

import (
	"time"

	"gorm.io/datatypes"
)

// Account is one end-user account the audience selector can match against.
// Attributes is a flat JSON document of profile facts (age band, client id,
// saving totals and whatever else upstream sync writes).
type Account struct {
	AccountID  string         `gorm:"column:account_id;primaryKey"`
	UserID     string         `gorm:"column:user_id;index"`
	ClientID   string         `gorm:"column:client_id;index"`
	Attributes datatypes.JSON `gorm:"column:attributes"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
