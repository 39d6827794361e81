package book

import "testing"

func TestChapterAt(t *testing.T) {
	m := &Manifest{Chapters: []Chapter{
		{Title: "One", Start: 0, End: 100},
		{Title: "Two", Start: 100, End: 250},
	}}

	tests := []struct {
		offset int
		want   int
	}{
		{0, 0},
		{99, 0},
		{100, 1},
		{249, 1},
		{250, -1},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := m.ChapterAt(tt.offset); got != tt.want {
			t.Errorf("ChapterAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
}

func TestChapterAtEmptyManifest(t *testing.T) {
	m := &Manifest{}
	if got := m.ChapterAt(0); got != -1 {
		t.Errorf("ChapterAt on empty manifest = %d, want -1", got)
	}
}
