package model

// DispenseItem is one requested line in a dispense call, as received from the
// caller. Upstream systems disagree on the field carrying the medicine name,
// so all known aliases are accepted and resolved through a single
// normalization pass.
type DispenseItem struct {
	Name         string `json:"name,omitempty"`
	MedicineName string `json:"medicineName,omitempty"`
	DrugName     string `json:"drugName,omitempty"`
	Drug         string `json:"drug,omitempty"`
	Quantity     int64  `json:"quantity"`
}

// DispenseRequest asks for a prescription's items to be deducted from stock.
type DispenseRequest struct {
	PrescriptionID string         `json:"prescription_id" validate:"required"`
	PatientRef     string         `json:"patient_ref"`
	ActorRef       string         `json:"actor_ref"`
	Items          []DispenseItem `json:"items" validate:"required,min=1"`
}

// BatchDeduction records one per-batch consumption inside a committed
// deduction.
type BatchDeduction struct {
	BatchID      string `json:"batch_id"`
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	Taken        int64  `json:"taken"`
	Remaining    int64  `json:"remaining"`
}

// DeductionResult is the committed outcome of a multi-medicine stock
// deduction, including the root anchored for the post-deduction state.
type DeductionResult struct {
	Deductions []BatchDeduction `json:"deductions"`
	NewRoot    string           `json:"new_root"`
}

// DispenseResult is returned to the caller on a completed dispense flow.
type DispenseResult struct {
	PrescriptionID string             `json:"prescription_id"`
	Status         PrescriptionStatus `json:"status"`
	Deductions     []BatchDeduction   `json:"deductions"`
	NewRoot        string             `json:"new_root"`
	RiskScore      float64            `json:"risk_score"`
	RiskReason     string             `json:"risk_reason,omitempty"`
}
