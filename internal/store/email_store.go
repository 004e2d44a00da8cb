package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/vrsandeep/mailpulse/internal/models"
)

// ErrDuplicateEmail is returned when (account, uid) is already stored.
var ErrDuplicateEmail = errors.New("email already stored")

// AttachmentRecord is a saved attachment file. Path is relative to the media
// root. A zero ID is replaced with a new UUID.
type AttachmentRecord struct {
	ID       uuid.UUID
	Filename string
	Path     string
}

// NewAttachmentID returns the identifier used for an attachment's row and
// stored file name.
func NewAttachmentID() uuid.UUID {
	return uuid.New()
}

// CreateEmail stores a processed email and its attachments in one
// transaction and returns the stored record with attachment URLs filled in.
func (s *Store) CreateEmail(account, uid string, e models.Email, atts []AttachmentRecord) (*models.StoredEmail, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO email_messages (account, uid, subject, from_address, sent_at, received_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account, uid, e.Subject, e.FromAddress, nullTime(e.SentAt), nullTime(e.ReceivedAt), e.Body)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateEmail, account, uid)
		}
		return nil, fmt.Errorf("failed to insert email: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	stored := &models.StoredEmail{ID: id, Account: account, UID: uid, Email: e.Clone()}
	stored.Attachments = make([]models.Attachment, 0, len(atts))
	for i, a := range atts {
		if a.ID == uuid.Nil {
			a.ID = NewAttachmentID()
		}
		_, err := tx.Exec(`INSERT INTO attachments (id, message_id, filename, path, position) VALUES (?, ?, ?, ?, ?)`,
			a.ID.String(), id, a.Filename, a.Path, i)
		if err != nil {
			return nil, fmt.Errorf("failed to insert attachment %q: %w", a.Filename, err)
		}
		stored.Attachments = append(stored.Attachments, models.Attachment{
			Filename: a.Filename,
			URL:      s.AttachmentURL(a.Path),
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// ExistingUIDs returns the set of UIDs already stored for account.
func (s *Store) ExistingUIDs(account string) (map[string]bool, error) {
	rows, err := s.db.Query("SELECT uid FROM email_messages WHERE account = ?", account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uids := make(map[string]bool)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids[uid] = true
	}
	return uids, rows.Err()
}

// ListEmails returns every stored email, most recently received first, with
// attachments in their original order.
func (s *Store) ListEmails() ([]models.Email, error) {
	rows, err := s.db.Query(`
		SELECT id, subject, from_address, sent_at, received_at, body
		FROM email_messages
		ORDER BY received_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []models.Email{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			id             int64
			e              models.Email
			sent, received sql.NullTime
		)
		if err := rows.Scan(&id, &e.Subject, &e.FromAddress, &sent, &received, &e.Body); err != nil {
			return nil, err
		}
		if sent.Valid {
			e.SentAt = models.NewTimestamp(sent.Time)
		}
		if received.Valid {
			e.ReceivedAt = models.NewTimestamp(received.Time)
		}
		e.Attachments = []models.Attachment{}
		index[id] = len(emails)
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attRows, err := s.db.Query(`SELECT message_id, filename, path FROM attachments ORDER BY message_id, position`)
	if err != nil {
		return nil, err
	}
	defer attRows.Close()
	for attRows.Next() {
		var (
			messageID      int64
			filename, path string
		)
		if err := attRows.Scan(&messageID, &filename, &path); err != nil {
			return nil, err
		}
		if i, ok := index[messageID]; ok {
			emails[i].Attachments = append(emails[i].Attachments, models.Attachment{
				Filename: filename,
				URL:      s.AttachmentURL(path),
			})
		}
	}
	return emails, attRows.Err()
}

// CountEmails returns the number of stored emails.
func (s *Store) CountEmails() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM email_messages").Scan(&n)
	return n, err
}

// CountProcessed returns the number of stored emails with a receipt time.
func (s *Store) CountProcessed() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM email_messages WHERE received_at IS NOT NULL").Scan(&n)
	return n, err
}

func nullTime(t models.Timestamp) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.Time.UTC(), Valid: true}
}
