package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/owesh74/Guftagu/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("character name and secret are required")
	ErrGroupNotFound     = errors.New("group not found")
	ErrCharacterNotFound = errors.New("character not found")
	ErrNameTaken         = errors.New("character name already taken")
	ErrWrongSecret       = errors.New("wrong secret")
)

// AdmissionStore is the slice of the room store the admission flow needs.
type AdmissionStore interface {
	GroupExists(ctx context.Context, name string) (bool, error)
	GetCharacterSecret(ctx context.Context, group, name string) (string, error)
	AddCharacter(ctx context.Context, group, name, secret string) error
}

// AdmissionService validates a claimed character identity against the room
// store, or registers a new one. Admission is stateless on the relay side:
// nothing remembers who a connection is, the client re-asserts the credential
// pair whenever identity matters.
type AdmissionService struct {
	store AdmissionStore
}

func NewAdmissionService(store AdmissionStore) *AdmissionService {
	return &AdmissionService{store: store}
}

// Admit grants room membership under the given character name. With isNew the
// character is created; otherwise the presented secret must exactly match the
// stored one. Re-admission with the correct secret is idempotent, and a
// failed admission never mutates the group.
func (s *AdmissionService) Admit(ctx context.Context, group, name, secret string, isNew bool) error {
	if name == "" || secret == "" {
		return ErrInvalidInput
	}

	exists, err := s.store.GroupExists(ctx, group)
	if err != nil {
		return fmt.Errorf("look up group: %w", err)
	}
	if !exists {
		return ErrGroupNotFound
	}

	if isNew {
		err := s.store.AddCharacter(ctx, group, name, secret)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return ErrNameTaken
		case errors.Is(err, repository.ErrNotFound):
			// Group deleted between the existence check and the insert.
			return ErrGroupNotFound
		case err != nil:
			return fmt.Errorf("create character: %w", err)
		}
		return nil
	}

	stored, err := s.store.GetCharacterSecret(ctx, group, name)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCharacterNotFound
	}
	if err != nil {
		return fmt.Errorf("look up character: %w", err)
	}
	if stored != secret {
		return ErrWrongSecret
	}
	return nil
}
