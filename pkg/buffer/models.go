package buffer

// Increment is the durable record of one production unit reported by a
// device and destined for the MES. Once Synced is true the row is
// immutable; Rejected marks a row the Replicator poisoned after a
// permanent upload failure and will never retry.
type Increment struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement;index:idx_synced_seq,priority:2" json:"seq"`
	OrderCode   string `gorm:"column:order_code;index:idx_order_station,priority:1" json:"orderCode"`
	UPC         string `gorm:"column:upc" json:"upc"`
	Quantity    int    `gorm:"column:quantity" json:"quantity"`
	OccurredAt  string `gorm:"column:occurred_at" json:"occurredAt"`
	Source      string `gorm:"column:source" json:"source"`
	StationID   int    `gorm:"column:station_id;index:idx_order_station,priority:2" json:"stationId"`
	UserID      int    `gorm:"column:user_id" json:"userId"`
	OrderID     int    `gorm:"column:order_id" json:"orderId"`
	Fingerprint string `gorm:"column:fingerprint" json:"fingerprint"`
	Synced      bool   `gorm:"column:synced;index:idx_synced_seq,priority:1" json:"synced"`
	Rejected    bool   `gorm:"column:rejected;default:false" json:"rejected"`
}

// TableName pins the table name so it survives renames of the Go type.
func (Increment) TableName() string { return "increments" }

// Source values recognised for an Increment.
const (
	SourceDevice  = "DEVICE"  // emitted from a CONT frame delta
	SourceInitial = "INITIAL" // synthetic increment from a stale-counter KeepCounter decision
)

// Station is the operator-selected work station, persisted in the buffer's
// database file alongside Increment. The gateway orchestrator writes each
// selection here through SetCurrentStation but does not read it back, so a
// restarted gateway starts with no station selected.
type Station struct {
	StationID  int    `gorm:"column:station_id;primaryKey" json:"stationId"`
	Name       string `gorm:"column:name" json:"name"`
	SelectedAt string `gorm:"column:selected_at" json:"selectedAt"`
}

// TableName pins the table name so it survives renames of the Go type.
func (Station) TableName() string { return "stations" }

// allModels lists every model AutoMigrate must create.
func allModels() []any {
	return []any{
		&Increment{},
		&Station{},
	}
}
