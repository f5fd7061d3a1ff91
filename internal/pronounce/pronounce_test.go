package pronounce

import (
	"strings"
	"testing"
)

func TestPrepare_IdentityWithoutKeys(t *testing.T) {
	t.Parallel()

	tbl := Default()
	for _, in := range []string{"", "hello", "ふざけるな！", "クイズを始めるぞ"} {
		if got := tbl.Prepare(in); got != in {
			t.Errorf("Prepare(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestPrepare_EachKeyExpandsExactlyOnce(t *testing.T) {
	t.Parallel()

	tbl := Default()
	for _, r := range DefaultRules {
		t.Run(r.Key, func(t *testing.T) {
			t.Parallel()
			if got := tbl.Prepare(r.Key); got != r.Reading {
				t.Errorf("Prepare(%q) = %q, want %q", r.Key, got, r.Reading)
			}
		})
	}
}

func TestPrepare_SelfContainingExpansionNotReexpanded(t *testing.T) {
	t.Parallel()

	got := Default().Prepare("源頼朝")
	if strings.Count(got, "源頼朝") != 1 {
		t.Errorf("Prepare(源頼朝) = %q, key re-expanded", got)
	}
}

func TestPrepare_Sentence(t *testing.T) {
	t.Parallel()

	got := Default().Prepare("黒水だ。1192年に源頼朝が征夷大将軍になった")
	want := "くろうずだ。せんひゃくきゅうじゅうにねんに源頼朝みなもとのよりともがせいいたいしょうぐんになった"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestPrepare_EarlierRuleWinsOnOverlap(t *testing.T) {
	t.Parallel()

	tbl := NewTable([]Rule{
		{Key: "織田", Reading: "おだ"},
		{Key: "織田信長", Reading: "おだのぶなが"},
	})
	if got := tbl.Prepare("織田信長"); got != "おだ信長" {
		t.Errorf("got %q, want %q", got, "おだ信長")
	}
}

func TestNewTable_SkipsNoOpRules(t *testing.T) {
	t.Parallel()

	tbl := NewTable([]Rule{{Key: "a", Reading: "a"}, {Key: "", Reading: "x"}, {Key: "b", Reading: "c"}})
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
	if got := tbl.Prepare("ab"); got != "ac" {
		t.Errorf("Prepare = %q", got)
	}
}

func TestPrepare_NilTable(t *testing.T) {
	t.Parallel()

	var tbl *Table
	if got := tbl.Prepare("黒水"); got != "黒水" {
		t.Errorf("nil table changed text: %q", got)
	}
}
