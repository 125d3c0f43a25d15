package access

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// bothAgree evaluates the relational and index representations for a row and
// fails the test if they disagree.
func bothAgree(t *testing.T, b *Builder, p Principal, intent Intent, row AccessRow) bool {
	t.Helper()
	relational := Eval(b.Build(p, intent), row)
	index := b.Index(p, intent).Matches(TermSet(AccessTerms(row)))
	require.Equal(t, relational, index,
		"relational and index predicates disagree for principal=%+v intent=%s row=%+v", p, intent, row)
	return relational
}

func TestBuild_PublicNotebookEmptyPrincipal(t *testing.T) {
	b := NewBuilder()
	row := AccessRow{ID: 1, Public: true, Owner: models.Owner{Kind: models.OwnerUser, ID: "someone-else"}}
	p := Principal{UserID: "u1"}

	assert.True(t, bothAgree(t, b, p, IntentRead, row))
	assert.False(t, bothAgree(t, b, p, IntentEdit, row))
}

func TestBuild_GroupOwnerInEditGroups(t *testing.T) {
	b := NewBuilder()
	row := AccessRow{ID: 2, Owner: models.Owner{Kind: models.OwnerGroup, ID: "G"}}
	p := Principal{UserID: "u1", ReadGroups: []string{"G"}, EditGroups: []string{"G"}}

	assert.True(t, bothAgree(t, b, p, IntentRead, row))
	assert.True(t, bothAgree(t, b, p, IntentEdit, row))
}

func TestBuild_ReadOnlyGroupCannotEdit(t *testing.T) {
	b := NewBuilder()
	row := AccessRow{ID: 3, Owner: models.Owner{Kind: models.OwnerGroup, ID: "G"}}
	p := Principal{UserID: "u1", ReadGroups: []string{"G"}}

	assert.True(t, bothAgree(t, b, p, IntentRead, row))
	assert.False(t, bothAgree(t, b, p, IntentEdit, row))
}

func TestBuild_UserAndGroupWithSameIDAreDistinct(t *testing.T) {
	b := NewBuilder()
	row := AccessRow{ID: 4, Owner: models.Owner{Kind: models.OwnerGroup, ID: "alice"}}
	p := Principal{UserID: "alice"}

	assert.False(t, bothAgree(t, b, p, IntentRead, row))
}

func TestBuild_SharedNotebook(t *testing.T) {
	b := NewBuilder()
	row := AccessRow{ID: 5, Owner: models.Owner{Kind: models.OwnerUser, ID: "owner"}, SharedWith: []string{"u1"}}

	assert.True(t, bothAgree(t, b, Principal{UserID: "u1"}, IntentRead, row))
	assert.True(t, bothAgree(t, b, Principal{UserID: "u1"}, IntentEdit, row))
	assert.False(t, bothAgree(t, b, Principal{UserID: "u2"}, IntentRead, row))
}

func TestBuild_AdminOverrideRequiresOptIn(t *testing.T) {
	b := NewBuilder()
	row := AccessRow{ID: 6, Owner: models.Owner{Kind: models.OwnerUser, ID: "owner"}}

	assert.False(t, bothAgree(t, b, Principal{UserID: "admin", IsAdmin: true}, IntentRead, row))
	assert.False(t, bothAgree(t, b, Principal{UserID: "admin", UseAdmin: true}, IntentRead, row))
	assert.True(t, bothAgree(t, b, Principal{UserID: "admin", IsAdmin: true, UseAdmin: true}, IntentEdit, row))

	assert.Equal(t, Const(true), b.Build(Principal{IsAdmin: true, UseAdmin: true}, IntentRead))
}

func TestBuild_AnonymousSeesOnlyPublic(t *testing.T) {
	b := NewBuilder()
	assert.Equal(t, IsPublic{}, b.Build(Anonymous(), IntentRead))
	assert.Equal(t, Const(false), b.Build(Anonymous(), IntentEdit))
}

func TestBuild_Extension(t *testing.T) {
	trusted := ExtensionFunc(func(p Principal, intent Intent) Expr {
		if intent != IntentRead {
			return nil
		}
		return HasTag{Tag: "org-wide"}
	})
	b := NewBuilder(trusted)
	row := AccessRow{ID: 7, Owner: models.Owner{Kind: models.OwnerUser, ID: "owner"}, Tags: []string{"org-wide"}}

	assert.True(t, bothAgree(t, b, Principal{UserID: "u1"}, IntentRead, row))
	assert.False(t, bothAgree(t, b, Principal{UserID: "u1"}, IntentEdit, row))
}

func TestBuild_RandomizedEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(20261017))
	ids := []string{"u1", "u2", "u3", "g1", "g2", "g3"}
	tags := []string{"alpha", "beta", "gamma"}

	pick := func() []string {
		var out []string
		for _, id := range ids {
			if rng.Intn(3) == 0 {
				out = append(out, id)
			}
		}
		return out
	}

	extension := ExtensionFunc(func(p Principal, intent Intent) Expr {
		// Notebooks tagged alpha are readable by members of g1, unless also tagged beta.
		if intent == IntentRead && contains(p.ReadGroups, "g1") {
			return And{HasTag{Tag: "alpha"}, Not{X: HasTag{Tag: "beta"}}}
		}
		return nil
	})
	builders := []*Builder{NewBuilder(), NewBuilder(extension)}

	for i := 0; i < 2000; i++ {
		kind := models.OwnerUser
		if rng.Intn(2) == 0 {
			kind = models.OwnerGroup
		}
		var rowTags []string
		for _, tg := range tags {
			if rng.Intn(2) == 0 {
				rowTags = append(rowTags, tg)
			}
		}
		row := AccessRow{
			ID:         int64(i),
			Public:     rng.Intn(4) == 0,
			Owner:      models.Owner{Kind: kind, ID: ids[rng.Intn(len(ids))]},
			SharedWith: pick(),
			Tags:       rowTags,
		}
		p := Principal{
			ReadGroups: pick(),
			EditGroups: pick(),
			IsAdmin:    rng.Intn(5) == 0,
			UseAdmin:   rng.Intn(2) == 0,
		}
		if rng.Intn(6) != 0 {
			p.UserID = ids[rng.Intn(3)]
		}

		for _, b := range builders {
			t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
				read := bothAgree(t, b, p, IntentRead, row)
				bothAgree(t, b, p, IntentEdit, row)
				if row.Public {
					assert.True(t, read, "public notebooks are readable by everyone")
				}
			})
		}
	}
}

func TestSimplify(t *testing.T) {
	assert.Equal(t, Const(false), Simplify(Or{}))
	assert.Equal(t, Const(true), Simplify(And{}))
	assert.Equal(t, IsPublic{}, Simplify(Or{Const(false), IsPublic{}}))
	assert.Equal(t, Const(true), Simplify(Or{IsPublic{}, Const(true)}))
	assert.Equal(t, Const(false), Simplify(And{IsPublic{}, Const(false)}))
	assert.Equal(t, Const(false), Simplify(OwnedBy{Kind: models.OwnerGroup}))
	assert.Equal(t, IsPublic{}, Simplify(Not{X: Not{X: IsPublic{}}}))
	assert.Equal(t,
		Or{IsPublic{}, SharedWith{UserID: "u"}, HasTag{Tag: "t"}},
		Simplify(Or{IsPublic{}, Or{SharedWith{UserID: "u"}, HasTag{Tag: "t"}}}))
}
