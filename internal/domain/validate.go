package domain

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var deckNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

var validate = NewValidator()

// NewValidator returns a validator with the "deckname" tag registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("deckname", func(fl validator.FieldLevel) bool {
		return deckNamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidateDeckName rejects names that could escape the deck store. The
// empty name is rejected as well since it would address the store root.
func ValidateDeckName(name string) error {
	if err := validate.Var(name, "required,deckname"); err != nil {
		return fmt.Errorf("%w: deck %q", ErrInvalidName, name)
	}
	return nil
}

// Validate checks that the card can take part in a merge.
func (c Card) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: null card", ErrMalformedCard)
	}
	q, present := c[FieldQuestion]
	if !present {
		return fmt.Errorf("%w: missing %q", ErrMalformedCard, FieldQuestion)
	}
	if _, ok := q.(string); !ok {
		return fmt.Errorf("%w: %q must be a string", ErrMalformedCard, FieldQuestion)
	}
	return nil
}

// Validate checks every deck name and card in the snapshot.
func (s Snapshot) Validate() error {
	for name, deck := range s.Decks {
		// "" is refused as well: it would name the store root, not a deck.
		if err := ValidateDeckName(name); err != nil {
			return err
		}
		for i, card := range deck.Cards {
			if err := card.Validate(); err != nil {
				return fmt.Errorf("deck %s card %d: %w", name, i, err)
			}
		}
	}
	return nil
}
