package storage

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"carcrawler/internal/domain"
)

const (
	xlsxSheet = "Listings"

	colID          = "id"
	colLink        = "link"
	colFetchedAt   = "fetched_at"
	colDescription = "description"
	colOtherInfo   = "other_info"
	colImages      = "images"

	prefixCommon  = "common:"
	prefixDetails = "details:"
	prefixImage   = "image:"

	imageURL         = "url"
	imageContentType = "content_type"
	imageWidth       = "width"
	imageHeight      = "height"
	imageData        = "data"

	// Values longer than a cell can hold continue in "<column>#2", "<column>#3", ...
	continuationSep = "#"
)

var imageFields = []string{imageURL, imageContentType, imageWidth, imageHeight, imageData}

// XLSXCodec stores a batch as a spreadsheet with one row per listing.
// Multi-value cells hold one value per line. Each thumbnail gets its own
// columns, with the image bytes base64 encoded.
type XLSXCodec struct{}

func (XLSXCodec) Ext() string { return ".xlsx" }

func (XLSXCodec) Encode(w io.Writer, records []domain.Listing) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	// --- Cell values ---
	columns := xlsxColumns(records)
	values := make([]map[string][]string, len(records))
	width := make(map[string]int, len(columns))
	for i, rec := range records {
		values[i] = make(map[string][]string, len(columns))
		for _, name := range columns {
			chunks := splitChunks(xlsxCell(rec, name), excelize.TotalCellChars)
			values[i][name] = chunks
			if len(chunks) > width[name] {
				width[name] = len(chunks)
			}
		}
	}

	// --- Header ---
	var header []string
	for _, name := range columns {
		header = append(header, name)
		for n := 2; n <= width[name]; n++ {
			header = append(header, name+continuationSep+strconv.Itoa(n))
		}
	}
	if err := setRow(f, 1, toCells(header)); err != nil {
		return err
	}

	// --- Rows ---
	for i := range records {
		row := make([]interface{}, 0, len(header))
		for _, name := range columns {
			chunks := values[i][name]
			for n := 0; n < width[name]; n++ {
				if n < len(chunks) {
					row = append(row, chunks[n])
				} else {
					row = append(row, "")
				}
			}
		}
		if err := setRow(f, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (XLSXCodec) Decode(r io.Reader) ([]domain.Listing, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", xlsxSheet, err)
	}
	if len(rows) == 0 {
		return []domain.Listing{}, nil
	}

	columns, owner := logicalColumns(rows[0])
	records := make([]domain.Listing, 0, len(rows)-1)
	for r, row := range rows[1:] {
		cells := make(map[string]string, len(columns))
		for c, name := range owner {
			if c < len(row) {
				cells[name] += row[c]
			}
		}
		rec, err := decodeRow(columns, cells)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// logicalColumns maps every header cell to the column it belongs to, folding
// continuation cells into their base column.
func logicalColumns(header []string) ([]string, []string) {
	var columns []string
	seen := make(map[string]bool, len(header))
	owner := make([]string, len(header))
	for c, name := range header {
		if i := strings.LastIndex(name, continuationSep); i > 0 {
			base := name[:i]
			if n, err := strconv.Atoi(name[i+1:]); err == nil && n >= 2 && seen[base] {
				owner[c] = base
				continue
			}
		}
		if !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
		owner[c] = name
	}
	return columns, owner
}

func xlsxColumns(records []domain.Listing) []string {
	common := map[string]struct{}{"brand": {}, "model": {}, "model_group": {}}
	details := map[string]struct{}{}
	images := 0
	for _, rec := range records {
		for k := range rec.Common {
			common[k] = struct{}{}
		}
		for k := range rec.Details {
			details[k] = struct{}{}
		}
		images = max(images, len(rec.Images))
	}

	columns := []string{colID, colLink, colFetchedAt}
	columns = append(columns, prefixed(prefixCommon, common)...)
	columns = append(columns, prefixed(prefixDetails, details)...)
	columns = append(columns, colDescription, colOtherInfo, colImages)
	for i := 1; i <= images; i++ {
		for _, field := range imageFields {
			columns = append(columns, imageColumn(i, field))
		}
	}
	return columns
}

func imageColumn(i int, field string) string {
	return prefixImage + strconv.Itoa(i) + ":" + field
}

func prefixed(prefix string, keys map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, prefix+k)
	}
	sort.Strings(out)
	return out
}

func xlsxCell(rec domain.Listing, column string) string {
	switch {
	case column == colID:
		return rec.ID
	case column == colLink:
		return rec.Link
	case column == colFetchedAt:
		if rec.FetchedAt.IsZero() {
			return ""
		}
		return rec.FetchedAt.UTC().Format(time.RFC3339Nano)
	case column == colDescription:
		return rec.Description.Text
	case column == colOtherInfo:
		return strings.Join(rec.Description.Other, "\n")
	case column == colImages:
		return strconv.Itoa(len(rec.Images))
	case strings.HasPrefix(column, prefixImage):
		i, field, ok := parseImageColumn(column)
		if !ok || i > len(rec.Images) {
			return ""
		}
		return imageCell(rec.Images[i-1], field)
	case strings.HasPrefix(column, prefixCommon):
		return rec.Common[strings.TrimPrefix(column, prefixCommon)]
	case strings.HasPrefix(column, prefixDetails):
		return strings.Join(rec.Details[strings.TrimPrefix(column, prefixDetails)], "\n")
	}
	return ""
}

func imageCell(img domain.Image, field string) string {
	switch field {
	case imageURL:
		return img.URL
	case imageContentType:
		return img.ContentType
	case imageWidth:
		return strconv.Itoa(img.Width)
	case imageHeight:
		return strconv.Itoa(img.Height)
	case imageData:
		return base64.StdEncoding.EncodeToString(img.Data)
	}
	return ""
}

func parseImageColumn(column string) (int, string, bool) {
	idx, field, ok := strings.Cut(strings.TrimPrefix(column, prefixImage), ":")
	if !ok {
		return 0, "", false
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 1 {
		return 0, "", false
	}
	return i, field, true
}

func decodeRow(columns []string, cells map[string]string) (domain.Listing, error) {
	rec := domain.Listing{
		Common:      map[string]string{},
		Details:     map[string][]string{},
		Description: domain.Description{Other: []string{}},
	}

	count := 0
	if v := cells[colImages]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rec, fmt.Errorf("invalid %s %q", colImages, v)
		}
		count = n
	}
	rec.Images = make([]domain.Image, count)

	for _, name := range columns {
		if err := setField(&rec, name, cells[name]); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func setField(rec *domain.Listing, column, value string) error {
	switch {
	case column == colID:
		rec.ID = value
	case column == colLink:
		rec.Link = value
	case column == colFetchedAt:
		if value == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", colFetchedAt, value, err)
		}
		rec.FetchedAt = t
	case column == colDescription:
		rec.Description.Text = value
	case column == colOtherInfo:
		rec.Description.Other = splitCell(value)
	case strings.HasPrefix(column, prefixImage):
		i, field, ok := parseImageColumn(column)
		if !ok || i > len(rec.Images) {
			return nil
		}
		return setImageField(&rec.Images[i-1], field, value)
	case strings.HasPrefix(column, prefixCommon):
		key := strings.TrimPrefix(column, prefixCommon)
		if value != "" || key == "brand" || key == "model" || key == "model_group" {
			rec.Common[key] = value
		}
	case strings.HasPrefix(column, prefixDetails):
		if value != "" {
			rec.Details[strings.TrimPrefix(column, prefixDetails)] = splitCell(value)
		}
	}
	return nil
}

func setImageField(img *domain.Image, field, value string) error {
	var err error
	switch field {
	case imageURL:
		img.URL = value
	case imageContentType:
		img.ContentType = value
	case imageWidth:
		img.Width, err = atoiCell(value)
	case imageHeight:
		img.Height, err = atoiCell(value)
	case imageData:
		if value == "" {
			return nil
		}
		img.Data, err = base64.StdEncoding.DecodeString(value)
	}
	if err != nil {
		return fmt.Errorf("invalid image %s %q: %w", field, value, err)
	}
	return nil
}

func atoiCell(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

// splitChunks cuts value into pieces of at most limit characters.
func splitChunks(value string, limit int) []string {
	if utf8.RuneCountInString(value) <= limit {
		return []string{value}
	}
	var chunks []string
	runes := []rune(value)
	for len(runes) > limit {
		chunks = append(chunks, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(chunks, string(runes))
}

func splitCell(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, "\n")
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func setRow(f *excelize.File, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", row, err)
	}
	if err := f.SetSheetRow(xlsxSheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
