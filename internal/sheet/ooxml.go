package sheet

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// cellLink is a hyperlink anchored on a single cell.
type cellLink struct {
	Col    int // 1-based
	Row    int // 1-based
	Target string
}

type xmlRel struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

type xmlRels struct {
	Rels []xmlRel `xml:"Relationship"`
}

type xmlWorkbook struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

// firstSheetLinks reads the hyperlinks of the first worksheet straight from
// the OOXML parts: <hyperlink ref="B5" r:id="rId3"/> in the sheet, resolved
// against the sheet's relationships. Range refs ("B5:C6") are expanded to
// every covered cell. Internal (location-only) links are ignored.
func firstSheetLinks(zr *zip.Reader) ([]cellLink, error) {
	var wb xmlWorkbook
	if err := decodePart(zr, "xl/workbook.xml", &wb); err != nil {
		return nil, err
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.New("workbook has no sheets")
	}

	var wbRels xmlRels
	if err := decodePart(zr, "xl/_rels/workbook.xml.rels", &wbRels); err != nil {
		return nil, err
	}

	sheetPath := ""
	for _, r := range wbRels.Rels {
		if r.ID == wb.Sheets[0].RID {
			sheetPath = resolvePart("xl", r.Target)
			break
		}
	}
	if sheetPath == "" {
		return nil, eris.Errorf("no part for sheet %q", wb.Sheets[0].Name)
	}

	refs, err := sheetHyperlinkRefs(zr, sheetPath)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	relsPath := path.Join(path.Dir(sheetPath), "_rels", path.Base(sheetPath)+".rels")
	var sheetRels xmlRels
	if err := decodePart(zr, relsPath, &sheetRels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(sheetRels.Rels))
	for _, r := range sheetRels.Rels {
		targets[r.ID] = r.Target
	}

	var links []cellLink
	for _, ref := range refs {
		target := targets[ref.rid]
		if target == "" {
			continue
		}
		cells, err := expandRef(ref.ref)
		if err != nil {
			continue
		}
		for _, c := range cells {
			links = append(links, cellLink{Col: c[0], Row: c[1], Target: target})
		}
	}
	return links, nil
}

type hyperlinkRef struct {
	ref string
	rid string
}

// sheetHyperlinkRefs streams the worksheet XML and collects <hyperlink>
// elements without materializing the cell data.
func sheetHyperlinkRefs(zr *zip.Reader, name string) ([]hyperlinkRef, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", name)
	}
	defer f.Close() //nolint:errcheck

	var refs []hyperlinkRef
	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return refs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "decode %s", name)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "hyperlink" {
			continue
		}
		var h hyperlinkRef
		for _, a := range se.Attr {
			switch {
			case a.Name.Local == "ref":
				h.ref = a.Value
			case a.Name.Local == "id" && a.Name.Space != "":
				h.rid = a.Value
			}
		}
		if h.ref != "" && h.rid != "" {
			refs = append(refs, h)
		}
	}
}

// expandRef turns "B5" or "B5:C6" into (col,row) pairs.
func expandRef(ref string) ([][2]int, error) {
	from, to, isRange := strings.Cut(ref, ":")
	c1, r1, err := excelize.CellNameToCoordinates(from)
	if err != nil {
		return nil, err
	}
	if !isRange {
		return [][2]int{{c1, r1}}, nil
	}
	c2, r2, err := excelize.CellNameToCoordinates(to)
	if err != nil {
		return nil, err
	}
	var out [][2]int
	for r := min(r1, r2); r <= max(r1, r2); r++ {
		for c := min(c1, c2); c <= max(c1, c2); c++ {
			out = append(out, [2]int{c, r})
		}
	}
	return out, nil
}

func decodePart(zr *zip.Reader, name string, v any) error {
	f, err := zr.Open(name)
	if err != nil {
		return eris.Wrapf(err, "open %s", name)
	}
	defer f.Close() //nolint:errcheck
	if err := xml.NewDecoder(f).Decode(v); err != nil {
		return eris.Wrapf(err, "decode %s", name)
	}
	return nil
}

// resolvePart resolves a relationship target relative to base ("xl"), or as
// an absolute part name when it starts with "/".
func resolvePart(base, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join(base, target))
}
