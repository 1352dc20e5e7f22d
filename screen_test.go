package purfectdrive

import "testing"

func TestPutCellAndSnapshot(t *testing.T) {
	s := NewLogicalScreen(10, 4)
	c := NewCellCh('x')
	c.Bold = true
	s.PutCell(3, 2, c)
	if got := s.CellAt(3, 2); got.Ch != 'x' || !got.Bold {
		t.Fatalf("CellAt = %+v", got)
	}
	snap := s.Snapshot()
	if len(snap) != 4 || len(snap[0]) != 10 {
		t.Fatalf("snapshot is %dx%d", len(snap[0]), len(snap))
	}
	if snap[2][3].Ch != 'x' {
		t.Fatal("snapshot misses written cell")
	}
	// snapshot is a copy
	snap[2][3].Ch = 'y'
	if s.CellAt(3, 2).Ch != 'x' {
		t.Fatal("snapshot aliases the grid")
	}
}

func TestOutOfRangeWritesIgnored(t *testing.T) {
	s := NewLogicalScreen(4, 4)
	s.PutCell(-1, 0, NewCellCh('a'))
	s.PutCell(0, 99, NewCellCh('a'))
	if s.CellAt(-1, 0).Ch != ' ' || s.CellAt(0, 99).Ch != ' ' {
		t.Fatal("out of range access must return blanks")
	}
}

func TestResizePreservesOverlap(t *testing.T) {
	s := NewLogicalScreen(8, 4)
	s.PutCell(2, 1, NewCellCh('k'))
	s.Resize(6, 6)
	if s.Width() != 6 || s.Height() != 6 {
		t.Fatalf("size = %dx%d", s.Width(), s.Height())
	}
	if s.CellAt(2, 1).Ch != 'k' {
		t.Fatal("resize lost overlapping content")
	}
	s.Resize(2, 2)
	if s.CellAt(2, 1).Ch != ' ' {
		t.Fatal("shrink kept out-of-range content visible")
	}
}

func TestPutRuneWidePair(t *testing.T) {
	row := make([]Cell, 4)
	for i := range row {
		row[i] = NewCell()
	}
	n := PutRune(row, 1, '漢', DefaultAttr())
	if n != 2 {
		t.Fatalf("wide rune consumed %d columns", n)
	}
	if row[1].Width != WidthLeft || row[2].Width != WidthRight {
		t.Fatalf("pair: %+v %+v", row[1], row[2])
	}
	if row[2].Ch != '漢' {
		t.Fatal("right half must share the left cell's rune")
	}
	// no room for the right half
	n = PutRune(row, 3, '漢', DefaultAttr())
	if n != 1 || row[3].Ch != ' ' {
		t.Fatalf("edge write: n=%d cell=%+v", n, row[3])
	}
}

func TestPutStringExpandsWideRunes(t *testing.T) {
	s := NewLogicalScreen(10, 2)
	next := s.PutString(0, 0, "a漢b", DefaultAttr())
	if next != 4 {
		t.Fatalf("next column = %d", next)
	}
	if s.CellAt(1, 0).Width != WidthLeft || s.CellAt(2, 0).Width != WidthRight {
		t.Fatal("wide rune not expanded")
	}
	if s.CellAt(3, 0).Ch != 'b' {
		t.Fatal("trailing rune misplaced")
	}
}

func TestHeadlessFlushReconciles(t *testing.T) {
	s := NewLogicalScreen(4, 2)
	s.PutCell(0, 0, NewCellCh('z'))
	if !s.Dirty() {
		t.Fatal("screen should be dirty before flush")
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if s.Dirty() {
		t.Fatal("screen still dirty after flush")
	}
	if s.PhysicalAt(0, 0).Ch != 'z' {
		t.Fatal("physical does not reflect logical")
	}
}

func TestMultiScreenMinimumDimensions(t *testing.T) {
	a := NewLogicalScreen(80, 24)
	b := NewLogicalScreen(60, 40)
	m := NewMultiScreen(a, b)
	if m.Width() != 60 || m.Height() != 24 {
		t.Fatalf("composite dims = %dx%d", m.Width(), m.Height())
	}
}

func TestMultiScreenFanOut(t *testing.T) {
	a := NewLogicalScreen(10, 4)
	b := NewLogicalScreen(10, 4)
	m := NewMultiScreen(a, b)
	m.PutCell(1, 1, NewCellCh('m'))
	if a.CellAt(1, 1).Ch != 'm' || b.CellAt(1, 1).Ch != 'm' {
		t.Fatal("write did not fan out")
	}
	m.Clear()
	if a.CellAt(1, 1).Ch != ' ' || b.CellAt(1, 1).Ch != ' ' {
		t.Fatal("clear did not fan out")
	}
	m.Remove(b)
	m.PutCell(2, 2, NewCellCh('n'))
	if b.CellAt(2, 2).Ch != ' ' {
		t.Fatal("removed member still receives writes")
	}
}

func TestCellBlankAndEqual(t *testing.T) {
	if !NewCell().Blank() {
		t.Fatal("fresh cell must be blank")
	}
	c := NewCell()
	c.Background = StandardColor(4)
	if c.Blank() {
		t.Fatal("colored cell is not blank")
	}
	img := NewCell()
	img.Bitmap = testBitmap(4, 4)
	if img.Blank() || !img.Image() {
		t.Fatal("image cell misclassified")
	}
	same := NewCell()
	same.Bitmap = testBitmap(4, 4)
	if !img.Equal(same) {
		t.Fatal("identical bitmaps must compare equal by hash")
	}
}
