package thread

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"murmur/api/internal/item"
)

var epoch = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func comment(id, parent string, likes int, ts int) item.Item {
	it := item.Item{
		ID:        id,
		Kind:      item.KindComment,
		ParentID:  parent,
		Body:      "comment " + id,
		CreatedAt: epoch.Add(time.Duration(ts) * time.Second),
	}
	it.SetCounter(item.CounterLikes, likes)
	return it
}

func scenario() []item.Item {
	return []item.Item{
		comment("1", "", 5, 100),
		comment("2", "1", 9, 110),
		comment("3", "", 1, 120),
	}
}

func randomItems(r *rand.Rand, n int) []item.Item {
	items := make([]item.Item, n)
	for i := range items {
		parent := ""
		switch r.Intn(3) {
		case 0:
		case 1:
			if i > 0 {
				parent = fmt.Sprint(r.Intn(i))
			}
		case 2:
			parent = fmt.Sprintf("missing-%d", i)
		}
		items[i] = comment(fmt.Sprint(i), parent, r.Intn(4), r.Intn(50))
	}
	r.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	return items
}

func TestPopularScenario(t *testing.T) {
	forest := Reconcile(scenario(), PolicyPopular)
	if got := forest.IDs(); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("root order = %v, want [1 3]", got)
	}
	if got := Forest(forest[0].Children).IDs(); !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("children of 1 = %v, want [2]", got)
	}
}

func TestReconcileDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		items := randomItems(r, 40)
		for _, policy := range []Policy{PolicyNewest, PolicyOldest, PolicyPopular} {
			first := Reconcile(items, policy)
			second := Reconcile(items, policy)
			if !reflect.DeepEqual(first, second) {
				t.Fatalf("round %d policy %s: reconcile is not deterministic", round, policy)
			}
		}
	}
}

func TestReconcileKeepsEveryItemOnce(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for round := 0; round < 25; round++ {
		items := randomItems(r, 60)
		forest := Reconcile(items, PolicyNewest)

		seen := map[string]int{}
		forest.Walk(func(node *Node, _ int) bool {
			seen[node.Item.ID]++
			return true
		})
		if len(seen) != len(items) {
			t.Fatalf("round %d: forest has %d ids, input %d", round, len(seen), len(items))
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("round %d: id %s appears %d times", round, id, count)
			}
		}

		present := map[string]bool{}
		for _, it := range items {
			present[it.ID] = true
		}
		forest.Walk(func(node *Node, depth int) bool {
			want := map[string]bool{}
			for _, it := range items {
				if it.ParentID == node.Item.ID {
					want[it.ID] = true
				}
			}
			got := map[string]bool{}
			for _, child := range node.Children {
				got[child.Item.ID] = true
			}
			if !reflect.DeepEqual(want, got) && !(len(want) == 0 && len(got) == 0) {
				t.Fatalf("round %d: children of %s = %v, want %v", round, node.Item.ID, got, want)
			}
			return true
		})
		for _, root := range forest {
			if parent := root.Item.ParentID; parent != "" && present[parent] {
				t.Fatalf("round %d: %s is a root but its parent %s exists", round, root.Item.ID, parent)
			}
		}
	}
}

func TestOrphansBecomeRoots(t *testing.T) {
	items := []item.Item{
		comment("a", "gone", 0, 1),
		comment("b", "a", 0, 2),
	}
	forest := Reconcile(items, PolicyOldest)
	if got := forest.IDs(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("roots = %v", got)
	}
	if len(forest[0].Children) != 1 || forest[0].Children[0].Item.ID != "b" {
		t.Fatalf("children = %v", Forest(forest[0].Children).IDs())
	}
}

func TestParentCycleBecomesRoots(t *testing.T) {
	items := []item.Item{
		comment("x", "y", 0, 1),
		comment("y", "x", 0, 2),
		comment("z", "x", 0, 3),
		comment("self", "self", 0, 4),
	}
	forest := Reconcile(items, PolicyOldest)
	if forest.Len() != len(items) {
		t.Fatalf("Len() = %d, want %d", forest.Len(), len(items))
	}
	if got := forest.IDs(); !reflect.DeepEqual(got, []string{"x", "y", "self"}) {
		t.Fatalf("roots = %v", got)
	}
}

func TestNewestIsReverseOfOldest(t *testing.T) {
	items := make([]item.Item, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, comment(fmt.Sprint(i), "", 0, (i*7)%20))
	}
	newest := Reconcile(items, PolicyNewest).IDs()
	oldest := Reconcile(items, PolicyOldest).IDs()
	for i := range newest {
		if newest[i] != oldest[len(oldest)-1-i] {
			t.Fatalf("newest %v is not the reverse of oldest %v", newest, oldest)
		}
	}
}

func TestRepliesUseSamePolicy(t *testing.T) {
	items := []item.Item{
		comment("root", "", 0, 1),
		comment("r1", "root", 0, 2),
		comment("r2", "root", 0, 3),
		comment("r3", "root", 0, 4),
	}
	forest := Reconcile(items, PolicyNewest)
	if got := Forest(forest[0].Children).IDs(); !reflect.DeepEqual(got, []string{"r3", "r2", "r1"}) {
		t.Fatalf("replies = %v", got)
	}
}

func TestPopularTieBreak(t *testing.T) {
	items := []item.Item{
		comment("old", "", 2, 1),
		comment("new", "", 2, 9),
		comment("b", "", 2, 5),
		comment("a", "", 2, 5),
		comment("top", "", 7, 0),
	}
	got := Reconcile(items, PolicyPopular).IDs()
	want := []string{"top", "new", "a", "b", "old"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("popular order = %v, want %v", got, want)
	}
}

func TestReconcileDuplicateIDLastWins(t *testing.T) {
	first := comment("1", "", 1, 1)
	second := comment("1", "", 4, 1)
	second.Body = "updated"
	forest := Reconcile([]item.Item{first, second}, PolicyNewest)
	if forest.Len() != 1 || forest[0].Item.Body != "updated" {
		t.Fatalf("forest = %+v", forest.Items())
	}
}

func TestCarryFlags(t *testing.T) {
	prev := Reconcile(scenario(), PolicyNewest)
	prev.SetFlag("1", item.FlagExpanded, true)
	prev.SetFlag("2", item.FlagLiked, true)
	prev.SetFlag("3", item.FlagPending, true)

	fresh := scenario()
	fresh[1].SetFlag(item.FlagLiked, false)
	next := Reconcile(fresh, PolicyNewest)
	CarryFlags(prev, next)

	one, _ := next.Find("1")
	if !one.Item.Flag(item.FlagExpanded) {
		t.Fatal("expanded flag was not carried")
	}
	two, _ := next.Find("2")
	if two.Item.Flag(item.FlagLiked) {
		t.Fatal("fresh liked flag was overwritten by stale view state")
	}
	three, _ := next.Find("3")
	if three.Item.Flag(item.FlagPending) {
		t.Fatal("pending flag must not be carried")
	}
}

func TestCloneIsDeep(t *testing.T) {
	forest := Reconcile(scenario(), PolicyNewest)
	cp := forest.Clone()
	cp.ToggleCounter("2", item.CounterLikes, 1)
	cp.Update("1", item.Patch{Body: ptr("changed")})

	two, _ := forest.Find("2")
	if two.Item.Counter(item.CounterLikes) != 9 {
		t.Fatal("clone shares counters with original")
	}
	one, _ := forest.Find("1")
	if one.Item.Body != "comment 1" {
		t.Fatal("clone shares items with original")
	}
}

func ptr(s string) *string { return &s }
