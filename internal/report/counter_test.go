package report

import (
	"reflect"
	"testing"
)

func TestCounterSorted(t *testing.T) {
	c := make(Counter)
	c.Add("sshd")
	c.Add("sshd")
	c.Add("cupsd")
	c.Add("nginx")
	c.Add("nginx")

	got := c.Sorted()
	want := []CountEntry{
		{Name: "nginx", Count: 2},
		{Name: "sshd", Count: 2},
		{Name: "cupsd", Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted() = %v, want %v (descending count, ties alphabetical)", got, want)
	}
}

func TestCounterTop(t *testing.T) {
	c := Counter{"a": 5, "b": 3, "c": 1}

	if got := c.Top(2); len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("Top(2) = %v", got)
	}
	if got := c.Top(0); len(got) != 3 {
		t.Errorf("Top(0) must return everything, got %v", got)
	}
	if got := c.Top(10); len(got) != 3 {
		t.Errorf("Top(10) must cap at the counter size, got %v", got)
	}
}

func TestCounterTotal(t *testing.T) {
	c := Counter{"a": 5, "b": 3}
	if got := c.Total(); got != 8 {
		t.Errorf("Total() = %d, want 8", got)
	}
}
