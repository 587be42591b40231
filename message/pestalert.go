package message

// PestAlertData describes the shape collaborators are expected to populate
// for a broadcast PEST_ALERT (spec.md §6). The core never inspects these
// fields itself — it only floods the message — but the constructor exists
// so callers don't hand-build the data map.
type PestAlertData struct {
	PestType  string
	PestCount int
	RiskLevel string
	FarmID    string
	AlertID   string
}

// NewPestAlert builds a broadcast-typed PEST_ALERT message. TargetUserID is
// always empty: a broadcast has no single addressee (spec.md §4.6.6).
func NewPestAlert(selfID string, d PestAlertData) *Message {
	return New(selfID, "", TypePestAlert, map[string]interface{}{
		"pest_type":  d.PestType,
		"pest_count": d.PestCount,
		"risk_level": d.RiskLevel,
		"farm_id":    d.FarmID,
		"alert_id":   d.AlertID,
	})
}
