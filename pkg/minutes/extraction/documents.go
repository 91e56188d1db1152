package extraction

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// Paragraphs splits text on blank lines, trimming and dropping empty pieces.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extractText(f minutes.FileInfo, data []byte) fileOutput {
	out := fileOutput{pages: 1}
	for _, p := range Paragraphs(string(data)) {
		out.blocks = append(out.blocks, minutes.TextBlock{
			FileID:     f.ID,
			Type:       minutes.BlockParagraph,
			Text:       p,
			Confidence: ConfidencePlainText,
			Page:       1,
		})
	}
	return out
}

func extractPDF(f minutes.FileInfo, data []byte) (out fileOutput, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
				fmt.Sprintf("malformed pdf %s: %v", f.Name(), r), nil)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction, "open pdf "+f.Name(), err)
	}
	out.pages = r.NumPage()
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
				fmt.Sprintf("read page %d of %s", i, f.Name()), err)
		}
		for _, p := range Paragraphs(text) {
			out.blocks = append(out.blocks, minutes.TextBlock{
				FileID:     f.ID,
				Type:       minutes.BlockParagraph,
				Text:       p,
				Confidence: ConfidencePDF,
				Page:       i,
			})
		}
	}
	return out, nil
}

func extractDOCX(f minutes.FileInfo, data []byte) (fileOutput, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction, "open docx "+f.Name(), err)
	}
	var doc *zip.File
	for _, zf := range zr.File {
		if zf.Name == "word/document.xml" {
			doc = zf
			break
		}
	}
	if doc == nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
			f.Name()+" has no word/document.xml", nil)
	}
	rc, err := doc.Open()
	if err != nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction, "open document.xml", err)
	}
	defer rc.Close()

	paras, err := docxParagraphs(rc)
	if err != nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction, "parse "+f.Name(), err)
	}
	out := fileOutput{pages: 1}
	for _, p := range paras {
		out.blocks = append(out.blocks, minutes.TextBlock{
			FileID:     f.ID,
			Type:       p.blockType,
			Text:       p.text,
			Confidence: ConfidenceDOCX,
			Page:       1,
		})
	}
	return out, nil
}

type docxParagraph struct {
	text      string
	blockType minutes.BlockType
}

// docxParagraphs walks WordprocessingML, emitting one entry per w:p.
// Paragraphs inside tables are typed as table blocks.
func docxParagraphs(r io.Reader) ([]docxParagraph, error) {
	dec := xml.NewDecoder(r)
	var (
		out        []docxParagraph
		cur        strings.Builder
		inPara     bool
		inText     bool
		tableDepth int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "t":
				inText = false
			case "p":
				inPara = false
				if text := strings.TrimSpace(cur.String()); text != "" {
					bt := minutes.BlockParagraph
					if tableDepth > 0 {
						bt = minutes.BlockTable
					}
					out = append(out, docxParagraph{text: text, blockType: bt})
				}
			}
		case xml.CharData:
			if inPara && inText {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
