package thread

import (
	"reflect"
	"testing"

	"murmur/api/internal/item"
)

func deepForest() Forest {
	return Reconcile([]item.Item{
		comment("root", "", 0, 1),
		comment("a", "root", 0, 2),
		comment("a1", "a", 3, 3),
		comment("a2", "a", 4, 4),
		comment("b", "root", 0, 5),
	}, PolicyOldest)
}

func TestDeleteScenario(t *testing.T) {
	forest := Reconcile(scenario(), PolicyPopular)
	removed, ok := forest.Remove("2")
	if !ok || removed.Item.ID != "2" {
		t.Fatalf("Remove(2) = %v, %v", removed, ok)
	}
	if got := forest.IDs(); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("roots = %v", got)
	}
	if len(forest[0].Children) != 0 {
		t.Fatalf("node 1 children = %v", Forest(forest[0].Children).IDs())
	}
	if _, ok := forest.Remove("2"); ok {
		t.Fatal("second Remove(2) reported success")
	}
}

func TestRemoveRootTakesSubtree(t *testing.T) {
	forest := deepForest()
	removed, ok := forest.Remove("a")
	if !ok {
		t.Fatal("Remove(a) failed")
	}
	if Forest([]*Node{removed}).Len() != 3 {
		t.Fatalf("removed subtree size = %d", Forest([]*Node{removed}).Len())
	}
	if forest.Len() != 2 {
		t.Fatalf("remaining = %v", forest.Items())
	}
}

func TestToggleCounterNestedReply(t *testing.T) {
	forest := deepForest()
	if !forest.ToggleCounter("a2", item.CounterLikes, 1) {
		t.Fatal("ToggleCounter(a2) not found")
	}
	a2, _ := forest.Find("a2")
	a1, _ := forest.Find("a1")
	if a2.Item.Counter(item.CounterLikes) != 5 {
		t.Fatalf("a2 likes = %d, want 5", a2.Item.Counter(item.CounterLikes))
	}
	if a1.Item.Counter(item.CounterLikes) != 3 {
		t.Fatalf("sibling a1 likes = %d, want 3", a1.Item.Counter(item.CounterLikes))
	}

	forest.ToggleCounter("a1", item.CounterLikes, -10)
	if a1.Item.Counter(item.CounterLikes) != 0 {
		t.Fatalf("counter went below zero: %d", a1.Item.Counter(item.CounterLikes))
	}
	if forest.ToggleCounter("nope", item.CounterLikes, 1) {
		t.Fatal("ToggleCounter on missing id reported success")
	}
}

func TestUpdateNestedReply(t *testing.T) {
	forest := deepForest()
	body := "edited"
	if !forest.Update("a1", item.Patch{Body: &body}) {
		t.Fatal("Update(a1) not found")
	}
	a1, _ := forest.Find("a1")
	if a1.Item.Body != "edited" {
		t.Fatalf("body = %q", a1.Item.Body)
	}
}

func TestAddPlacement(t *testing.T) {
	forest := Reconcile(scenario(), PolicyNewest)

	if !forest.Add(comment("4", "", 0, 200), PolicyNewest) {
		t.Fatal("Add(4) failed")
	}
	if forest[0].Item.ID != "4" {
		t.Fatalf("newest root not first: %v", forest.IDs())
	}

	if !forest.Add(comment("5", "2", 0, 210), PolicyNewest) {
		t.Fatal("Add(5) failed")
	}
	two, _ := forest.Find("2")
	if len(two.Children) != 1 || two.Children[0].Item.ID != "5" {
		t.Fatal("reply was not attached to depth-2 parent")
	}

	if forest.Add(comment("5", "", 0, 220), PolicyNewest) {
		t.Fatal("duplicate Add reported success")
	}

	log := Forest{}
	log.Add(comment("m1", "", 0, 1), PolicyNone)
	log.Add(comment("m2", "", 0, 2), PolicyNone)
	if got := log.IDs(); !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Fatalf("append order = %v", got)
	}
}

func TestAddOrphanReplyBecomesRoot(t *testing.T) {
	forest := Forest{}
	forest.Add(comment("r", "unknown", 0, 1), PolicyOldest)
	if got := forest.IDs(); !reflect.DeepEqual(got, []string{"r"}) {
		t.Fatalf("roots = %v", got)
	}
}
