package audience

import (
	"context"
	"encoding/json"

	"boostplane/pkg/celengine"
	"boostplane/pkg/errutil"
	"boostplane/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service resolves a selection expression into the account ids it matches.
// Expressions are CEL over the account attribute document, e.g.
// "client_id == 'zar_client' && saving_total > 100000".
type Service struct {
	repo repository.Repository[Account]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo: repository.ProvideStore[Account](p.DB),
	}
}

// Member pairs an account with its owning user.
type Member struct {
	AccountID string
	UserID    string
}

// UpsertAccount records or refreshes an account's attribute document.
func (s *Service) UpsertAccount(ctx context.Context, account *Account) error {
	existing, err := s.repo.FindOne(ctx, &Account{AccountID: account.AccountID})
	if err != nil {
		return err
	}
	if existing == nil {
		return s.repo.Create(ctx, account)
	}
	return s.repo.Update(ctx, account.AccountID, account)
}

// ResolveAccounts returns the ids of every account the selection matches.
func (s *Service) ResolveAccounts(ctx context.Context, clientID, selection string) ([]string, error) {
	members, err := s.ResolveMembers(ctx, clientID, selection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.AccountID)
	}
	return ids, nil
}

// ResolveMembers returns every account the selection matches along with
// its owning user. An empty selection matches everyone, optionally
// narrowed to one client.
func (s *Service) ResolveMembers(ctx context.Context, clientID, selection string) ([]Member, error) {
	query := &Account{}
	if clientID != "" {
		query.ClientID = clientID
	}

	accounts, err := s.repo.Find(ctx, query)
	if err != nil {
		return nil, err
	}

	if selection == "" {
		members := make([]Member, 0, len(accounts))
		for _, a := range accounts {
			members = append(members, Member{AccountID: a.AccountID, UserID: a.UserID})
		}
		return members, nil
	}

	// one env over the union of attribute keys so the expression compiles
	// once regardless of which accounts carry which fields
	attrsByAccount := make(map[string]map[string]any, len(accounts))
	union := make(map[string]any)
	for _, a := range accounts {
		attrs := map[string]any{}
		if len(a.Attributes) > 0 {
			if err := json.Unmarshal(a.Attributes, &attrs); err != nil {
				zap.L().Warn("skipping account with invalid attributes",
					zap.String("account_id", a.AccountID), zap.Error(err))
				continue
			}
		}
		attrs["account_id"] = a.AccountID
		attrs["user_id"] = a.UserID
		attrs["client_id"] = a.ClientID
		attrsByAccount[a.AccountID] = attrs
		for k := range attrs {
			union[k] = nil
		}
	}

	env, err := celengine.GetOrBuildEnv(union)
	if err != nil {
		return nil, errutil.BadRequest("invalid audience selection", errutil.WithErr(err))
	}
	if err := celengine.ValidateExpression(env, selection); err != nil {
		return nil, errutil.BadRequest("invalid audience selection", errutil.WithErr(err))
	}

	var members []Member
	for _, a := range accounts {
		attrs, ok := attrsByAccount[a.AccountID]
		if !ok {
			continue
		}
		// fill gaps so references to fields an account lacks evaluate
		// against null instead of failing
		for k := range union {
			if _, present := attrs[k]; !present {
				attrs[k] = nil
			}
		}

		matched, err := celengine.Evaluate(env, selection, attrs)
		if err != nil {
			zap.L().Warn("audience expression failed for account",
				zap.String("account_id", a.AccountID), zap.Error(err))
			continue
		}
		if matched {
			members = append(members, Member{AccountID: a.AccountID, UserID: a.UserID})
		}
	}

	return members, nil
}
