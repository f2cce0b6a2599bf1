package domain

// Vitals is the patient-entered health profile stored with preferences.
type Vitals struct {
	HeightCm      float64 `json:"heightCm,omitempty"`
	WeightKg      float64 `json:"weightKg,omitempty"`
	BloodPressure string  `json:"bloodPressure,omitempty"`
	HeartRate     int     `json:"heartRate,omitempty"`
}

// Preferences is the remote preference document for a patient. The
// remote store is the sole source of truth; legacy local values are only
// a read-only fallback during migration.
type Preferences struct {
	Notifications   bool   `json:"notifications"`
	DarkMode        bool   `json:"darkMode"`
	DefaultDoctorID string `json:"defaultDoctorId,omitempty"`
	Condition       string `json:"condition,omitempty"`
	Vitals          Vitals `json:"vitals"`
}
