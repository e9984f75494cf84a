package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/jgerrish/image-rider/disk"
)

type cellState int

const (
	cellPlain cellState = iota
	cellValid
	cellSkipped
	cellInvalid
)

func (c cellState) glyph() rune {
	switch c {
	case cellValid:
		return '#'
	case cellSkipped:
		return '?'
	case cellInvalid:
		return 'X'
	}
	return '.'
}

func (c cellState) style() tcell.Style {
	switch c {
	case cellValid:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case cellSkipped:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case cellInvalid:
		return tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	}
	return tcell.StyleDefault
}

// mapRow is one track of the map, sectors in logical order.
type mapRow struct {
	label  string
	cells  []cellState
	defect bool
}

func trackMapRows(img *disk.DiskImage) []mapRow {
	var rows []mapRow
	for _, t := range img.Geometry().Ordered() {
		row := mapRow{
			label:  fmt.Sprintf("%.2d/%d", t.Index, t.Side),
			defect: t.Invalid(),
		}
		for _, s := range t.LogicalOrder() {
			st := cellPlain
			switch {
			case s.Invalid():
				st = cellInvalid
			case s.HasChecksum && s.Checksum.Skipped():
				st = cellSkipped
			case s.HasChecksum:
				st = cellValid
			}
			row.cells = append(row.cells, st)
		}
		rows = append(rows, row)
	}
	return rows
}

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, style)
	}
}

func drawTrackMap(s tcell.Screen, title string, rows []mapRow, top int) {
	s.Clear()
	_, h := s.Size()

	putStr(s, 0, 0, title, tcell.StyleDefault.Bold(true))
	putStr(s, 0, 1, "# valid  ? unchecked  X invalid  . no checksum   arrows scroll, q quits", tcell.StyleDefault)

	y := 3
	for i := top; i < len(rows) && y < h; i++ {
		r := rows[i]
		style := tcell.StyleDefault
		if r.defect {
			style = style.Foreground(tcell.ColorRed)
		}
		putStr(s, 0, y, r.label, style)
		for j, c := range r.cells {
			s.SetContent(7+j*2, y, c.glyph(), nil, c.style())
		}
		if r.defect {
			putStr(s, 8+len(r.cells)*2, y, "track defect", style)
		}
		y++
	}
	s.Show()
}

// showTrackMap runs the full screen map until the user quits.
func showTrackMap(filename string, img *disk.DiskImage) error {

	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()
	s.DisableMouse()

	rows := trackMapRows(img)
	title := fmt.Sprintf("%s: %s", filename, img)
	top := 0

	for {
		drawTrackMap(s, title, rows, top)
		_, h := s.Size()
		page := h - 3
		if page < 1 {
			page = 1
		}

		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC, ev.Key() == tcell.KeyEscape:
				return nil
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				return nil
			case ev.Key() == tcell.KeyDown:
				top++
			case ev.Key() == tcell.KeyUp:
				top--
			case ev.Key() == tcell.KeyPgDn:
				top += page
			case ev.Key() == tcell.KeyPgUp:
				top -= page
			}
			if top > len(rows)-page {
				top = len(rows) - page
			}
			if top < 0 {
				top = 0
			}
		case *tcell.EventResize:
			s.Sync()
		case nil:
			return nil
		}
	}
}
