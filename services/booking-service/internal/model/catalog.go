package model

type Service struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Location        string `json:"location"`
}

type Slot struct {
	ID        int64
	ServiceID int64
	Date      string
	Time      string
	Available bool
}

// OpenSlot is a slot that can be booked right now.
type OpenSlot struct {
	ID       int64  `json:"id"`
	SlotTime string `json:"slot_time"`
}

// DateRange spans a service's slots. Both ends are null when it has none.
type DateRange struct {
	MinDate *string `json:"min_date"`
	MaxDate *string `json:"max_date"`
}

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
}
