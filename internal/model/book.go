package model

import "time"

// Book is a catalog title with a number of physical copies.
type Book struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	ISBN            string     `json:"isbn,omitempty"`
	PublishedYear   int        `json:"published_year,omitempty"`
	Category        string     `json:"category,omitempty"`
	Description     string     `json:"description,omitempty"`
	CoverMime       string     `json:"cover_mime,omitempty"`
	TotalCopies     int        `json:"total_copies"`
	AvailableCopies int        `json:"available_copies"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// CheckedOut returns the number of copies currently out on loan.
func (b *Book) CheckedOut() int {
	return b.TotalCopies - b.AvailableCopies
}
