// Package store provides the durable, versioned record store for the
// household inventory: the items collection plus the settings singleton,
// backed by embedded SQLite.
//
// The database lives in a single file (frigo.db by default) opened in WAL
// mode. Schema changes are expressed as a strictly-forward migration ladder
// (see migrations.go); every historical shape of the data is one migration
// step, so a store created by any previous generation of the app upgrades in
// place on Open.
package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the lifecycle state of an item. Items start active; eaten and
// thrown items are immutable history used for statistics.
type Status string

const (
	StatusActive Status = "active"
	StatusEaten  Status = "eaten"
	StatusThrown Status = "thrown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusEaten, StatusThrown:
		return true
	}
	return false
}

// Location is where an item is kept.
type Location string

const (
	LocationFridge  Location = "Frigo"
	LocationFreezer Location = "Congélateur"
	LocationPantry  Location = "Placard"
)

// Valid reports whether l is one of the known locations.
func (l Location) Valid() bool {
	switch l {
	case LocationFridge, LocationFreezer, LocationPantry:
		return true
	}
	return false
}

// Category tags an item with its food group. The vocabulary grew over the
// product's life: the original seven labels plus a later generation of
// prepared-food tags. Both sets are accepted everywhere; unknown values read
// from old exports are tolerated and fall back to CategoryOther for
// default-days lookup only.
type Category string

const (
	CategoryProduce Category = "Fruits & Légumes"
	CategoryMeat    Category = "Viandes & Poissons"
	CategoryDairy   Category = "Produits laitiers"
	CategoryDrinks  Category = "Boissons"
	CategoryCanned  Category = "Conserves"
	CategoryFrozen  Category = "Surgelés"
	CategoryOther   Category = "Autre"

	// Second-generation vocabulary.
	CategoryCookedDish Category = "cooked_dish"
	CategorySoup       Category = "soup"
	CategoryCookedFish Category = "cooked_fish_poultry"
	CategoryMeatSauce  Category = "meat_sauce"
)

// Categories lists the full vocabulary in display order.
func Categories() []Category {
	return []Category{
		CategoryProduce, CategoryMeat, CategoryDairy, CategoryDrinks,
		CategoryCanned, CategoryFrozen, CategoryOther,
		CategoryCookedDish, CategorySoup, CategoryCookedFish, CategoryMeatSauce,
	}
}

// DefaultDays is the built-in shelf life per category, in days. Used to seed
// settings and to prefill new items when the caller gives no expiry.
var DefaultDays = map[Category]int{
	CategoryProduce:    7,
	CategoryMeat:       3,
	CategoryDairy:      7,
	CategoryDrinks:     30,
	CategoryCanned:     365,
	CategoryFrozen:     90,
	CategoryOther:      14,
	CategoryCookedDish: 4,
	CategorySoup:       3,
	CategoryCookedFish: 4,
	CategoryMeatSauce:  4,
}

// DefaultDaysFor returns the built-in shelf life for cat, falling back to
// CategoryOther for values outside the known vocabulary.
func DefaultDaysFor(cat Category) int {
	if d, ok := DefaultDays[cat]; ok {
		return d
	}
	return DefaultDays[CategoryOther]
}

// Item is one inventory unit. Timestamps are epoch milliseconds, matching
// the export wire format.
//
// Two generations of the schema expressed expiry differently: an absolute
// ExpiresAt instant or a relative TargetDays resolved against OpenedAt.
// SetDefaults computes whichever is missing so both are always populated on
// records this store writes.
type Item struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Location   Location `json:"location"`
	OpenedAt   int64    `json:"openedAt"`
	CreatedAt  int64    `json:"createdAt,omitempty"`
	ExpiresAt  int64    `json:"expiresAt,omitempty"`
	TargetDays int      `json:"targetDays,omitempty"`
	Status     Status   `json:"status"`
	Barcode    string   `json:"barcode,omitempty"`
	ImageURL   string   `json:"imageUrl,omitempty"`
}

const millisPerDay = 24 * 60 * 60 * 1000

// nowMillis returns the current time as epoch milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// SetDefaults fills optional fields so the record is complete:
// status defaults to active, openedAt/createdAt to now, and expiresAt and
// targetDays are derived from each other when only one is present. When both
// are absent the category's built-in shelf life applies.
func (it *Item) SetDefaults() {
	if it.Status == "" {
		it.Status = StatusActive
	}
	if it.Category == "" {
		it.Category = CategoryOther
	}
	if it.Location == "" {
		it.Location = LocationFridge
	}
	if it.OpenedAt == 0 {
		it.OpenedAt = nowMillis()
	}
	if it.CreatedAt == 0 {
		it.CreatedAt = it.OpenedAt
	}
	if it.ExpiresAt == 0 && it.TargetDays == 0 {
		it.TargetDays = DefaultDaysFor(it.Category)
	}
	if it.ExpiresAt == 0 {
		it.ExpiresAt = it.OpenedAt + int64(it.TargetDays)*millisPerDay
	}
	if it.TargetDays == 0 {
		days := (it.ExpiresAt - it.OpenedAt + millisPerDay - 1) / millisPerDay
		if days < 1 {
			days = 1
		}
		it.TargetDays = int(days)
	}
}

// Validate checks field values before a write. Name may be empty by design
// (callers supply display defaults); the id must be present and the status
// must be one of the closed set.
func (it *Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !it.Status.Valid() {
		return fmt.Errorf("invalid status %q", it.Status)
	}
	if it.Location != "" && !it.Location.Valid() {
		return fmt.Errorf("invalid location %q", it.Location)
	}
	if it.OpenedAt == 0 {
		return fmt.Errorf("openedAt is required")
	}
	return nil
}

// Expired reports whether the item is past its expiry at the given instant.
func (it *Item) Expired(at int64) bool {
	return it.ExpiresAt != 0 && it.ExpiresAt <= at
}

// itemJSON mirrors Item for wire encoding, with the id held raw so both
// historical key shapes survive a round trip: first-generation stores keyed
// items by a time-based integer, later ones by a random string.
type itemJSON struct {
	ID         json.RawMessage `json:"id"`
	Name       string          `json:"name"`
	Category   Category        `json:"category"`
	Location   Location        `json:"location"`
	OpenedAt   int64           `json:"openedAt"`
	CreatedAt  int64           `json:"createdAt,omitempty"`
	ExpiresAt  int64           `json:"expiresAt,omitempty"`
	TargetDays int             `json:"targetDays,omitempty"`
	Status     Status          `json:"status"`
	Barcode    string          `json:"barcode,omitempty"`
	ImageURL   string          `json:"imageUrl,omitempty"`
}

// MarshalJSON emits the id as a JSON number when it is purely numeric, so
// exports stay byte-compatible with files produced by integer-key stores.
func (it Item) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage(nil)
	if it.ID != "" {
		if _, err := strconv.ParseInt(it.ID, 10, 64); err == nil {
			raw = json.RawMessage(it.ID)
		} else {
			quoted, err := json.Marshal(it.ID)
			if err != nil {
				return nil, err
			}
			raw = quoted
		}
	}
	return json.Marshal(itemJSON{
		ID:         raw,
		Name:       it.Name,
		Category:   it.Category,
		Location:   it.Location,
		OpenedAt:   it.OpenedAt,
		CreatedAt:  it.CreatedAt,
		ExpiresAt:  it.ExpiresAt,
		TargetDays: it.TargetDays,
		Status:     it.Status,
		Barcode:    it.Barcode,
		ImageURL:   it.ImageURL,
	})
}

// UnmarshalJSON accepts ids as either JSON numbers or strings.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := decodeID(raw.ID)
	if err != nil {
		return err
	}
	*it = Item{
		ID:         id,
		Name:       raw.Name,
		Category:   raw.Category,
		Location:   raw.Location,
		OpenedAt:   raw.OpenedAt,
		CreatedAt:  raw.CreatedAt,
		ExpiresAt:  raw.ExpiresAt,
		TargetDays: raw.TargetDays,
		Status:     raw.Status,
		Barcode:    raw.Barcode,
		ImageURL:   raw.ImageURL,
	}
	return nil
}

// decodeID normalizes a raw JSON id to its string form. Numbers are decoded
// via json.Number so large time-based ids keep every digit.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid item id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid item id: %w", err)
	}
	return n.String(), nil
}

// Settings is the singleton preferences document. Exactly one row exists at
// all times after first access; GetSettings seeds it with built-in defaults.
type Settings struct {
	NotificationsEnabled  bool             `json:"notificationsEnabled"`
	DefaultLocation       Location         `json:"defaultLocation,omitempty"`
	DefaultTargetDays     int              `json:"defaultTargetDays,omitempty"`
	DefaultDaysByCategory map[Category]int `json:"defaultDaysByCategory,omitempty"`
	UpdatedAt             int64            `json:"updatedAt,omitempty"`
}

// DefaultSettings returns the built-in settings document.
func DefaultSettings() Settings {
	days := make(map[Category]int, len(DefaultDays))
	for cat, d := range DefaultDays {
		days[cat] = d
	}
	return Settings{
		NotificationsEnabled:  false,
		DefaultLocation:       LocationFridge,
		DefaultDaysByCategory: days,
	}
}

// SettingsPatch carries a partial settings update for SaveSettings. Nil
// fields are left unchanged; the merged document is written whole.
type SettingsPatch struct {
	NotificationsEnabled  *bool
	DefaultLocation       *Location
	DefaultTargetDays     *int
	DefaultDaysByCategory map[Category]int
}

// Stats is the consumption summary derived from archived items.
type Stats struct {
	Active      int     `json:"active"`
	Consumed    int     `json:"consumed"`
	Thrown      int     `json:"thrown"`
	SuccessRate float64 `json:"successRate"`
}
