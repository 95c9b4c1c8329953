package domain

import "testing"

func TestNewSagaMergesAndSorts(t *testing.T) {
	s, err := NewSaga("o-1", []Line{
		{ProductOptionID: 30, Quantity: 1},
		{ProductOptionID: 10, Quantity: 2},
		{ProductOptionID: 30, Quantity: 4},
	})
	if err != nil {
		t.Fatalf("new saga: %v", err)
	}
	want := []Line{{ProductOptionID: 10, Quantity: 2}, {ProductOptionID: 30, Quantity: 5}}
	if len(s.Lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), s.Lines)
	}
	for i := range want {
		if s.Lines[i] != want[i] {
			t.Fatalf("line %d: expected %+v, got %+v", i, want[i], s.Lines[i])
		}
	}
}

func TestNewSagaRejectsBadLines(t *testing.T) {
	if _, err := NewSaga("o-1", nil); err != ErrNoLines {
		t.Fatalf("expected ErrNoLines, got %v", err)
	}
	if _, err := NewSaga("o-1", []Line{{ProductOptionID: 1, Quantity: 0}}); err == nil {
		t.Fatal("expected zero quantity to be rejected")
	}
}

func TestCompensationReversesReservations(t *testing.T) {
	s, _ := NewSaga("o-1", []Line{{ProductOptionID: 1, Quantity: 1}, {ProductOptionID: 2, Quantity: 1}, {ProductOptionID: 3, Quantity: 1}})
	s.Record(Reserved{ProductOptionID: 1, Quantity: 1, ReservationID: "a"})
	s.Record(Reserved{ProductOptionID: 2, Quantity: 1, ReservationID: "b"})

	comp := s.Compensation("rollback")
	if len(comp) != 2 || comp[0].ReservationID != "b" || comp[1].ReservationID != "a" {
		t.Fatalf("unexpected compensation %+v", comp)
	}
	if s.State != StateStarted {
		t.Fatalf("expected saga still started, got %s", s.State)
	}
}
