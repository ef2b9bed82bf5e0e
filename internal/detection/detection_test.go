package detection

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proctor/internal/models"
)

func TestClassify(t *testing.T) {
	c, err := NewClassifier(map[string]string{"Cell Phone Case": "phone"})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}

	tests := []struct {
		label string
		want  models.Category
	}{
		{"phone", models.CategoryPhone},
		{"MOBILE", models.CategoryPhone},
		{"  headphones ", models.CategoryEarphone},
		{"earbuds", models.CategoryEarphone},
		{"watch", models.CategorySmartwatch},
		{"paper_slip", models.CategoryChit},
		{"book", models.CategoryTextbook},
		{"notes", models.CategoryNotebook},
		{"tablet", models.CategoryElectronicDevice},
		{"head_turned", models.CategoryHeadTurned},
		{"LOOKING_AT_NEIGHBOR", models.CategoryLookingAtNeighbor},
		{"cell phone case", models.CategoryPhone},
		{"", FallbackCategory},
		{"banana", FallbackCategory},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.label); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.label, got, tt.want)
		}
	}
}

func TestNewClassifierRejectsUnknownTarget(t *testing.T) {
	if _, err := NewClassifier(map[string]string{"ruler": "STATIONERY"}); err == nil {
		t.Fatal("expected error for alias to unknown category")
	}
}

func TestPoints(t *testing.T) {
	table, err := NewPointTable(nil, 0)
	if err != nil {
		t.Fatalf("NewPointTable: %v", err)
	}

	if got := table.Points(models.CategoryPhone, 0.8); got != 20 {
		t.Errorf("Points(PHONE, 0.8) = %d, want 20", got)
	}
	for _, category := range models.Categories {
		if got, want := table.Points(category, 1.0), table.Base(category); got != want {
			t.Errorf("Points(%s, 1.0) = %d, want base %d", category, got, want)
		}
	}
	if got := table.Points(models.Category("UNLISTED"), 1.0); got != 10 {
		t.Errorf("Points(unlisted, 1.0) = %d, want 10", got)
	}
	// 35 * 0.5 = 17.5 rounds half away from zero
	if got := table.Points(models.CategoryTextbook, 0.5); got != 18 {
		t.Errorf("Points(TEXTBOOK, 0.5) = %d, want 18", got)
	}
}

func TestPointTableOverrides(t *testing.T) {
	table, err := NewPointTable(map[string]int{"phone": 40}, 12)
	if err != nil {
		t.Fatalf("NewPointTable: %v", err)
	}
	if got := table.Base(models.CategoryPhone); got != 40 {
		t.Errorf("Base(PHONE) = %d, want 40", got)
	}
	if got := table.Base(models.Category("UNLISTED")); got != 12 {
		t.Errorf("Base(unlisted) = %d, want 12", got)
	}
	if _, err := NewPointTable(map[string]int{"laser": 5}, 0); err == nil {
		t.Error("expected error for unknown category override")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	c, _ := NewClassifier(nil)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	n := Normalize(Detection{SubjectID: "s1", Label: "mobile"}, c, now)
	if n.Confidence != 1.0 {
		t.Errorf("default confidence = %v, want 1.0", n.Confidence)
	}
	if !n.Timestamp.Equal(now) {
		t.Errorf("default timestamp = %v, want %v", n.Timestamp, now)
	}
	if n.Category != models.CategoryPhone {
		t.Errorf("category = %s, want PHONE", n.Category)
	}

	high := 1.7
	n = Normalize(Detection{Label: "???", Confidence: &high}, c, now)
	if n.Confidence != 1.0 {
		t.Errorf("clamped confidence = %v, want 1.0", n.Confidence)
	}
	if n.SubjectID != UnknownSubject {
		t.Errorf("subject = %q, want %q", n.SubjectID, UnknownSubject)
	}
	if n.Category != FallbackCategory {
		t.Errorf("category = %s, want fallback", n.Category)
	}

	nan := math.NaN()
	if n = Normalize(Detection{Label: "phone", Confidence: &nan}, c, now); n.Confidence != 1.0 {
		t.Errorf("NaN confidence = %v, want 1.0", n.Confidence)
	}
}

func TestLevelThresholdBoundaries(t *testing.T) {
	th := DefaultLevelThresholds()
	tests := []struct {
		score int
		want  models.AlertLevel
	}{
		{0, models.LevelNormal},
		{15, models.LevelNormal},
		{16, models.LevelWatch},
		{60, models.LevelWatch},
		{61, models.LevelSuspicious},
		{85, models.LevelSuspicious},
		{86, models.LevelCritical},
		{500, models.LevelCritical},
	}
	for _, tt := range tests {
		if got := th.Level(tt.score); got != tt.want {
			t.Errorf("Level(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSeverityThresholdBoundaries(t *testing.T) {
	th := DefaultSeverityThresholds()
	tests := []struct {
		points int
		want   models.Severity
	}{
		{15, models.SeverityGreen},
		{16, models.SeverityYellow},
		{35, models.SeverityYellow},
		{36, models.SeverityOrange},
		{60, models.SeverityOrange},
		{61, models.SeverityRed},
		{85, models.SeverityRed},
		{86, models.SeverityCritical},
	}
	for _, tt := range tests {
		if got := th.Severity(tt.points); got != tt.want {
			t.Errorf("Severity(%d) = %s, want %s", tt.points, got, tt.want)
		}
	}
	if got := th.SeverityOf(35.9); got != models.SeverityYellow {
		t.Errorf("SeverityOf(35.9) = %s, want YELLOW", got)
	}
}

func TestThresholdValidation(t *testing.T) {
	if err := DefaultLevelThresholds().Validate(); err != nil {
		t.Errorf("default level thresholds invalid: %v", err)
	}
	if err := DefaultSeverityThresholds().Validate(); err != nil {
		t.Errorf("default severity thresholds invalid: %v", err)
	}
	if err := (LevelThresholds{Watch: 50, Suspicious: 40, Critical: 90}).Validate(); err == nil {
		t.Error("expected error for non-ascending level thresholds")
	}
	if err := (SeverityThresholds{Yellow: 16, Orange: 16, Red: 61, Critical: 86}).Validate(); err == nil {
		t.Error("expected error for duplicate severity thresholds")
	}
}

func TestCooldownTimeline(t *testing.T) {
	gate := NewCooldownGate(30 * time.Second)
	key := CooldownKey{SessionID: 1, SubjectID: "S", Category: models.CategoryPhone}
	t0 := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	if !gate.Admit(key, t0) {
		t.Fatal("first detection should be admitted")
	}
	if gate.Admit(key, t0.Add(10*time.Second)) {
		t.Fatal("detection inside the window should be suppressed")
	}
	if !gate.Admit(key, t0.Add(31*time.Second)) {
		t.Fatal("detection after the window should be admitted")
	}

	other := CooldownKey{SessionID: 1, SubjectID: "S", Category: models.CategoryEarphone}
	if !gate.Admit(other, t0.Add(32*time.Second)) {
		t.Fatal("a different category is an independent key")
	}
}

func TestCooldownSuppressionLeavesStateUntouched(t *testing.T) {
	gate := NewCooldownGate(30 * time.Second)
	key := CooldownKey{SessionID: 1, SubjectID: "S", Category: models.CategoryPhone}
	t0 := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	gate.Admit(key, t0)
	gate.Admit(key, t0.Add(20*time.Second)) // suppressed, must not extend the window
	if !gate.Admit(key, t0.Add(30*time.Second)) {
		t.Fatal("window should be measured from the last admission, not the last attempt")
	}
}

func TestCooldownConcurrentAdmitSingleWinner(t *testing.T) {
	gate := NewCooldownGate(30 * time.Second)
	key := CooldownKey{SessionID: 7, SubjectID: "S", Category: models.CategoryPhone}
	now := time.Now()

	const n = 200
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			<-start
			if gate.Admit(key, now.Add(time.Duration(offset)*time.Millisecond)) {
				admitted.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Fatalf("admitted %d of %d concurrent attempts, want exactly 1", got, n)
	}
}

func TestCooldownRevertForgetSweep(t *testing.T) {
	gate := NewCooldownGate(30 * time.Second)
	t0 := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	a := CooldownKey{SessionID: 1, SubjectID: "a", Category: models.CategoryPhone}
	b := CooldownKey{SessionID: 2, SubjectID: "b", Category: models.CategoryPhone}

	gate.Admit(a, t0)
	gate.Revert(a, t0.Add(time.Second)) // not the recorded admission
	if gate.Admit(a, t0.Add(2*time.Second)) {
		t.Fatal("revert with a stale timestamp must not clear the record")
	}
	gate.Revert(a, t0)
	if !gate.Admit(a, t0.Add(2*time.Second)) {
		t.Fatal("reverted key should admit again")
	}

	gate.Admit(b, t0)
	gate.Forget(1)
	if gate.Len() != 1 {
		t.Fatalf("Len after Forget = %d, want 1", gate.Len())
	}

	if removed := gate.Sweep(t0.Add(time.Minute)); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if gate.Len() != 0 {
		t.Fatalf("Len after Sweep = %d, want 0", gate.Len())
	}
}
