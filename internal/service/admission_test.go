package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/owesh74/Guftagu/internal/repository"
)

// fakeAdmissionStore is an in-memory AdmissionStore: groups mapped to their
// character/secret pairs.
type fakeAdmissionStore struct {
	groups map[string]map[string]string
}

func newFakeAdmissionStore() *fakeAdmissionStore {
	return &fakeAdmissionStore{groups: make(map[string]map[string]string)}
}

func (s *fakeAdmissionStore) addGroup(name string) {
	s.groups[name] = make(map[string]string)
}

func (s *fakeAdmissionStore) GroupExists(_ context.Context, name string) (bool, error) {
	_, ok := s.groups[name]
	return ok, nil
}

func (s *fakeAdmissionStore) GetCharacterSecret(_ context.Context, group, name string) (string, error) {
	chars, ok := s.groups[group]
	if !ok {
		return "", repository.ErrNotFound
	}
	secret, ok := chars[name]
	if !ok {
		return "", repository.ErrNotFound
	}
	return secret, nil
}

func (s *fakeAdmissionStore) AddCharacter(_ context.Context, group, name, secret string) error {
	chars, ok := s.groups[group]
	if !ok {
		return repository.ErrNotFound
	}
	if _, taken := chars[name]; taken {
		return repository.ErrDuplicate
	}
	chars[name] = secret
	return nil
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()

	setup := func() (*AdmissionService, *fakeAdmissionStore) {
		store := newFakeAdmissionStore()
		store.addGroup("lab42")
		return NewAdmissionService(store), store
	}

	t.Run("new character joins and can resume", func(t *testing.T) {
		svc, _ := setup()
		require.NoError(t, svc.Admit(ctx, "lab42", "Ada", "1234", true))
		require.NoError(t, svc.Admit(ctx, "lab42", "Ada", "1234", false))
	})

	t.Run("re-admission is idempotent", func(t *testing.T) {
		svc, store := setup()
		require.NoError(t, svc.Admit(ctx, "lab42", "Ada", "1234", true))
		require.NoError(t, svc.Admit(ctx, "lab42", "Ada", "1234", false))
		require.NoError(t, svc.Admit(ctx, "lab42", "Ada", "1234", false))
		require.Len(t, store.groups["lab42"], 1)
	})

	t.Run("taken name rejected for new character", func(t *testing.T) {
		svc, _ := setup()
		require.NoError(t, svc.Admit(ctx, "lab42", "Ada", "1234", true))
		err := svc.Admit(ctx, "lab42", "Ada", "9999", true)
		require.ErrorIs(t, err, ErrNameTaken)
	})

	t.Run("wrong secret rejected without mutation", func(t *testing.T) {
		svc, store := setup()
		require.NoError(t, svc.Admit(ctx, "lab42", "Grace", "0000", true))
		err := svc.Admit(ctx, "lab42", "Grace", "1111", false)
		require.ErrorIs(t, err, ErrWrongSecret)
		require.Equal(t, "0000", store.groups["lab42"]["Grace"])
	})

	t.Run("unknown character rejected", func(t *testing.T) {
		svc, _ := setup()
		err := svc.Admit(ctx, "lab42", "Nobody", "1234", false)
		require.ErrorIs(t, err, ErrCharacterNotFound)
	})

	t.Run("unknown group rejected", func(t *testing.T) {
		svc, store := setup()
		err := svc.Admit(ctx, "nope", "Ada", "1234", true)
		require.ErrorIs(t, err, ErrGroupNotFound)
		require.NotContains(t, store.groups, "nope")
	})

	t.Run("empty credentials rejected", func(t *testing.T) {
		svc, _ := setup()
		require.ErrorIs(t, svc.Admit(ctx, "lab42", "", "1234", true), ErrInvalidInput)
		require.ErrorIs(t, svc.Admit(ctx, "lab42", "Ada", "", true), ErrInvalidInput)
	})
}
