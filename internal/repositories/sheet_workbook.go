package repositories

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	apperrors "rplhub/internal/errors"
)

const (
	accountsSheet    = "users"
	submissionsSheet = "submissions"
)

var (
	accountHeaders    = []string{"username", "password", "created_at", "id"}
	submissionHeaders = []string{"username", "full_name", "class_name", "cohort", "teammates", "colab_link", "artifact_filename", "status", "last_updated", "id"}
)

// Workbook is an xlsx file holding the users and submissions worksheets.
// Columns are located by header name, so sheets written by older versions of
// the form (without cohort or artifact_filename) keep working; missing columns
// are appended on the first write that needs them.
//
// Writers hold an exclusive lock for the whole read-modify-save cycle and the
// file is replaced by rename, so readers never see a half-written workbook.
type Workbook struct {
	path string
	mu   sync.RWMutex
}

// NewWorkbook opens the workbook at path, creating the file and any missing
// worksheet with its header row.
func NewWorkbook(path string) (*Workbook, error) {
	w := &Workbook{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f := excelize.NewFile()
		defer f.Close()
		if err := ensureSheets(f); err != nil {
			return nil, err
		}
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, fmt.Errorf("failed to drop default sheet: %w", err)
		}
		if err := w.save(f); err != nil {
			return nil, err
		}
		return w, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat workbook %s: %w", path, err)
	}

	err := w.update(func(f *excelize.File) error {
		return ensureSheets(f)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the workbook file path.
func (w *Workbook) Path() string {
	return w.path
}

func (w *Workbook) view(fn func(f *excelize.File) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return apperrors.Unavailable("open workbook", err)
	}
	defer f.Close()
	return fn(f)
}

func (w *Workbook) update(fn func(f *excelize.File) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return apperrors.Unavailable("open workbook", err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	return w.save(f)
}

func (w *Workbook) save(f *excelize.File) error {
	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".rplhub-*.xlsx")
	if err != nil {
		return apperrors.Unavailable("create temp workbook", err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := f.SaveAs(tmpName); err != nil {
		os.Remove(tmpName)
		return apperrors.Unavailable("save workbook", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return apperrors.Unavailable("replace workbook", err)
	}
	return nil
}

func ensureSheets(f *excelize.File) error {
	for name, headers := range map[string][]string{
		accountsSheet:    accountHeaders,
		submissionsSheet: submissionHeaders,
	} {
		idx, err := f.GetSheetIndex(name)
		if err != nil {
			return fmt.Errorf("failed to look up sheet %s: %w", name, err)
		}
		if idx != -1 {
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		row := make([]interface{}, len(headers))
		for i, h := range headers {
			row[i] = h
		}
		if err := f.SetSheetRow(name, "A1", &row); err != nil {
			return fmt.Errorf("failed to write %s headers: %w", name, err)
		}
	}
	return nil
}

// sheetTable is a worksheet loaded into memory with its header column map.
type sheetTable struct {
	name    string
	header  []string
	columns map[string]int
	rows    [][]string // data rows, header excluded
}

func loadTable(f *excelize.File, sheet string) (*sheetTable, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.Unavailable("read sheet "+sheet, err)
	}
	t := &sheetTable{name: sheet, columns: make(map[string]int)}
	if len(rows) == 0 {
		return t, nil
	}
	t.header = rows[0]
	for i, col := range t.header {
		t.columns[strings.ToLower(strings.TrimSpace(col))] = i
	}
	t.rows = rows[1:]
	return t, nil
}

// value returns the trimmed cell of data row i under the named column.
func (t *sheetTable) value(i int, column string) string {
	idx, ok := t.columns[column]
	if !ok || idx >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][idx])
}

// find returns the data row index whose untrimmed column cell equals value
// exactly, or -1.
func (t *sheetTable) find(column, value string) int {
	for i := range t.rows {
		if rawCell(t, i, column) == value {
			return i
		}
	}
	return -1
}

// cellName returns the A1 reference of data row i, column name.
func (t *sheetTable) cellName(i int, column string) (string, bool) {
	idx, ok := t.columns[column]
	if !ok {
		return "", false
	}
	name, err := excelize.CoordinatesToCellName(idx+1, i+2)
	if err != nil {
		return "", false
	}
	return name, true
}

// ensureColumns appends header cells for columns the sheet does not have yet.
func (t *sheetTable) ensureColumns(f *excelize.File, columns []string) error {
	for _, c := range columns {
		if _, ok := t.columns[c]; ok {
			continue
		}
		idx := len(t.header)
		cell, err := excelize.CoordinatesToCellName(idx+1, 1)
		if err != nil {
			return fmt.Errorf("failed to address header %s: %w", c, err)
		}
		if err := f.SetCellStr(t.name, cell, c); err != nil {
			return apperrors.Unavailable("write header "+c, err)
		}
		t.header = append(t.header, c)
		t.columns[c] = idx
	}
	return nil
}

// writeRow writes values keyed by column name into data row i. Row i may be
// len(t.rows), which appends. Only the given cells are written, so cells of
// columns this code does not manage keep their value and type.
func (t *sheetTable) writeRow(f *excelize.File, i int, values map[string]interface{}) error {
	for col, v := range values {
		cell, ok := t.cellName(i, col)
		if !ok {
			continue
		}
		if err := f.SetCellValue(t.name, cell, v); err != nil {
			return apperrors.Unavailable(fmt.Sprintf("write %s cell %s", t.name, cell), err)
		}
	}
	return nil
}
