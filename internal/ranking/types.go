// Package ranking defines the item record, the ranking collection helpers, and
// the collaborator interfaces shared across the crawl pipeline.
package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// UnknownAuthor is recorded when no author strategy yields text.
const UnknownAuthor = "未知作者"

// Sentinel errors returned by collaborators.
var (
	// ErrNotFound indicates no ranking collection has been persisted yet.
	ErrNotFound = errors.New("ranking not found")
	// ErrMechanismUnavailable indicates a page-acquisition mechanism could not start.
	ErrMechanismUnavailable = errors.New("acquisition mechanism unavailable")
)

// Book is one entry of the weekly recommendation ranking.
type Book struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Author               string `json:"author"`
	WeeklyRecommendation int    `json:"weeklyRecommendation"`
}

// PlaceholderName returns the display title used when no title is found.
func PlaceholderName(id string) string {
	return "书籍" + id
}

// DefaultBook returns the fully populated record used on total failure.
func DefaultBook(id string) Book {
	return Book{
		ID:     id,
		Name:   PlaceholderName(id),
		Author: UnknownAuthor,
	}
}

// Normalize fills every empty field with its default so the record is always complete.
func (b Book) Normalize() Book {
	if b.Name == "" {
		b.Name = PlaceholderName(b.ID)
	}
	if b.Author == "" {
		b.Author = UnknownAuthor
	}
	if b.WeeklyRecommendation < 0 {
		b.WeeklyRecommendation = 0
	}
	return b
}

// SortByRecommendation orders books by weekly recommendation, highest first.
// Books with equal counts keep their discovery order.
func SortByRecommendation(books []Book) {
	sort.SliceStable(books, func(i, j int) bool {
		return books[i].WeeklyRecommendation > books[j].WeeklyRecommendation
	})
}

// Snapshot is a persisted ranking collection plus the run that produced it.
type Snapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Mechanism string    `json:"mechanism,omitempty"`
	CrawledAt time.Time `json:"crawled_at"`
	Books     []Book    `json:"books"`
}

// MarshalBooks encodes books as the persisted JSON array.
func MarshalBooks(books []Book) ([]byte, error) {
	if books == nil {
		books = []Book{}
	}
	data, err := json.MarshalIndent(books, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode books: %w", err)
	}
	return data, nil
}

// UnmarshalBooks decodes a persisted JSON array, normalizing every record.
func UnmarshalBooks(data []byte) ([]Book, error) {
	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("decode books: %w", err)
	}
	for i := range books {
		books[i] = books[i].Normalize()
	}
	return books, nil
}
