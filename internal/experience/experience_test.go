package experience

import (
	"reflect"
	"testing"
)

func transition(action int, reward float64) Transition {
	return Transition{
		State:     []float64{float64(action)},
		Action:    action,
		Reward:    reward,
		NextState: []float64{float64(action) + 1},
	}
}

func TestExtendPreservesArrivalOrder(t *testing.T) {
	a := &Set{}
	a.Append(transition(0, 1))
	a.Append(transition(1, 1))

	b := &Set{}
	b.Append(transition(2, 0))

	a.Extend(b)

	if a.Size() != 3 {
		t.Fatalf("size after extend = %d, want 3", a.Size())
	}
	got := []int{a.Transitions[0].Action, a.Transitions[1].Action, a.Transitions[2].Action}
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("actions after extend = %v, want [0 1 2]", got)
	}
}

func TestExtendSizeIsSumOfInputs(t *testing.T) {
	a := &Set{}
	b := &Set{}
	for i := 0; i < 4; i++ {
		a.Append(transition(i, 1))
	}
	for i := 0; i < 7; i++ {
		b.Append(transition(i, 1))
	}
	a.Extend(b)
	if a.Size() != 11 {
		t.Fatalf("size = %d, want 11", a.Size())
	}
}

func TestExtendNilIsNoOp(t *testing.T) {
	a := &Set{}
	a.Append(transition(0, 1))
	a.Extend(nil)
	if a.Size() != 1 {
		t.Fatalf("size = %d, want 1", a.Size())
	}
}

func TestByPolicyGetInitializesOnFirstAccess(t *testing.T) {
	by := ByPolicy{}
	set := by.Get("dqn")
	if set == nil {
		t.Fatal("Get returned nil")
	}
	set.Append(transition(0, 1))
	if by.Get("dqn").Size() != 1 {
		t.Fatal("Get did not return the same set on second access")
	}
}

func TestByPolicyMerge(t *testing.T) {
	left := ByPolicy{}
	left.Get("a").Append(transition(0, 1))

	right := ByPolicy{}
	right.Get("a").Append(transition(1, 1))
	right.Get("b").Append(transition(2, 1))

	left.Merge(right)

	if left.Get("a").Size() != 2 {
		t.Fatalf("policy a size = %d, want 2", left.Get("a").Size())
	}
	if left.Get("b").Size() != 1 {
		t.Fatalf("policy b size = %d, want 1", left.Get("b").Size())
	}
	if left.TotalSize() != 3 {
		t.Fatalf("total size = %d, want 3", left.TotalSize())
	}
}
