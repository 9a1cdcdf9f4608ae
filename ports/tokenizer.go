package ports

import "github.com/layer-3/onerecurr/core"

// Tokenizer converts session grants to bearer tokens and back.
type Tokenizer interface {
	GrantToAccessToken(grant *core.SessionGrant) (string, error)
	AccessTokenToGrant(token string) (*core.SessionGrant, error)
}
