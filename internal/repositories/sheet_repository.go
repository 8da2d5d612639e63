package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
)

// timestamps written by the legacy form were Python's str(datetime.now())
var sheetTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseSheetTime(s string) time.Time {
	for _, layout := range sheetTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatSheetTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// SheetAccountRepository stores accounts in the users worksheet.
type SheetAccountRepository struct {
	wb *Workbook
}

// NewSheetAccountRepository creates a new instance of SheetAccountRepository.
func NewSheetAccountRepository(wb *Workbook) *SheetAccountRepository {
	return &SheetAccountRepository{wb: wb}
}

// Create appends an account row. The duplicate check and the append run under
// the workbook write lock.
func (r *SheetAccountRepository) Create(ctx context.Context, account *models.UserAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return r.wb.update(func(f *excelize.File) error {
		t, err := loadTable(f, accountsSheet)
		if err != nil {
			return err
		}
		if t.find("username", account.Username) != -1 {
			return fmt.Errorf("username '%s': %w", account.Username, apperrors.ErrAlreadyExists)
		}
		if err := t.ensureColumns(f, accountHeaders); err != nil {
			return err
		}
		return t.writeRow(f, len(t.rows), map[string]interface{}{
			"username":   account.Username,
			"password":   account.PasswordHash,
			"created_at": formatSheetTime(account.CreatedAt),
			"id":         account.ID,
		})
	})
}

// GetByUsername retrieves an account by its exact username.
func (r *SheetAccountRepository) GetByUsername(ctx context.Context, username string) (*models.UserAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var account *models.UserAccount
	err := r.wb.view(func(f *excelize.File) error {
		t, err := loadTable(f, accountsSheet)
		if err != nil {
			return err
		}
		i := t.find("username", username)
		if i == -1 {
			return nil
		}
		account = &models.UserAccount{
			ID:           t.value(i, "id"),
			Username:     rawCell(t, i, "username"),
			PasswordHash: t.value(i, "password"),
			CreatedAt:    parseSheetTime(t.value(i, "created_at")),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account '%s': %w", username, apperrors.ErrNotFound)
	}
	return account, nil
}

// SheetSubmissionRepository stores submissions in the submissions worksheet.
type SheetSubmissionRepository struct {
	wb *Workbook
}

// NewSheetSubmissionRepository creates a new instance of SheetSubmissionRepository.
func NewSheetSubmissionRepository(wb *Workbook) *SheetSubmissionRepository {
	return &SheetSubmissionRepository{wb: wb}
}

// GetByUsername retrieves the submission row of a user.
func (r *SheetSubmissionRepository) GetByUsername(ctx context.Context, username string) (*models.SubmissionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var row *models.SubmissionRow
	err := r.wb.view(func(f *excelize.File) error {
		t, err := loadTable(f, submissionsSheet)
		if err != nil {
			return err
		}
		if i := t.find("username", username); i != -1 {
			row = submissionFromSheet(f, t, i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("submission of '%s': %w", username, apperrors.ErrNotFound)
	}
	return row, nil
}

// GetAll retrieves every submission row in sheet order.
func (r *SheetSubmissionRepository) GetAll(ctx context.Context) ([]models.SubmissionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.SubmissionRow
	err := r.wb.view(func(f *excelize.File) error {
		t, err := loadTable(f, submissionsSheet)
		if err != nil {
			return err
		}
		rows = make([]models.SubmissionRow, 0, len(t.rows))
		for i := range t.rows {
			if t.value(i, "username") == "" {
				continue
			}
			rows = append(rows, *submissionFromSheet(f, t, i))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Upsert overwrites the user's row at its current position, or appends one.
func (r *SheetSubmissionRepository) Upsert(ctx context.Context, row *models.SubmissionRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.wb.update(func(f *excelize.File) error {
		t, err := loadTable(f, submissionsSheet)
		if err != nil {
			return err
		}
		i := t.find("username", row.Username)
		if i == -1 {
			i = len(t.rows)
			if row.ID == "" {
				row.ID = uuid.New().String()
			}
		} else if id := t.value(i, "id"); id != "" {
			row.ID = id
		} else if row.ID == "" {
			row.ID = uuid.New().String()
		}

		if err := t.ensureColumns(f, submissionHeaders); err != nil {
			return err
		}
		return t.writeRow(f, i, map[string]interface{}{
			"username":          row.Username,
			"full_name":         row.FullName,
			"class_name":        row.ClassName,
			"cohort":            row.Cohort,
			"teammates":         row.Teammates,
			"colab_link":        row.ArtifactLink,
			"artifact_filename": row.ArtifactFilename,
			"status":            row.Status.Raw,
			"last_updated":      formatSheetTime(row.LastUpdated),
			"id":                row.ID,
		})
	})
}

func submissionFromSheet(f *excelize.File, t *sheetTable, i int) *models.SubmissionRow {
	return &models.SubmissionRow{
		ID:               t.value(i, "id"),
		Username:         rawCell(t, i, "username"),
		FullName:         t.value(i, "full_name"),
		ClassName:        t.value(i, "class_name"),
		Cohort:           t.value(i, "cohort"),
		Teammates:        rawCell(t, i, "teammates"),
		ArtifactLink:     t.value(i, "colab_link"),
		ArtifactFilename: t.value(i, "artifact_filename"),
		Status:           models.StatusCell{Raw: statusCell(f, t, i)},
		LastUpdated:      parseSheetTime(t.value(i, "last_updated")),
	}
}

// rawCell returns the untrimmed cell. Usernames match exactly and
// newline-joined teammates keep their separators.
func rawCell(t *sheetTable, i int, column string) string {
	idx, ok := t.columns[column]
	if !ok || idx >= len(t.rows[i]) {
		return ""
	}
	return t.rows[i][idx]
}

// statusCell returns a bool for boolean cells and the text otherwise.
func statusCell(f *excelize.File, t *sheetTable, i int) any {
	text := t.value(i, "status")
	cell, ok := t.cellName(i, "status")
	if !ok {
		return text
	}
	typ, err := f.GetCellType(t.name, cell)
	if err != nil || typ != excelize.CellTypeBool {
		return text
	}
	return strings.EqualFold(text, "TRUE") || text == "1"
}
