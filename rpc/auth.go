package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"escrowauction/native/auction"
)

// callerInfo identifies who issued a request. With JWT enabled the address
// comes from the token subject; otherwise handlers fall back to the caller
// named in the parameters.
type callerInfo struct {
	address       [20]byte
	authenticated bool
}

type authenticator struct {
	cfg    JWTConfig
	secret []byte
}

func newAuthenticator(cfg JWTConfig) *authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.Secret))}
}

func (a *authenticator) resolve(r *http.Request) (callerInfo, *RPCError) {
	if a == nil || !a.cfg.Enable {
		return callerInfo{}, nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return callerInfo{}, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return callerInfo{}, &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	if err := validateClaims(claims, a.cfg.Issuer); err != nil {
		return callerInfo{}, &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	sub, _ := claims["sub"].(string)
	addr, err := auction.ParseAddress(sub)
	if err != nil {
		return callerInfo{}, &RPCError{Code: codeUnauthorized, Message: "token subject is not an address"}
	}
	return callerInfo{address: addr, authenticated: true}, nil
}

func (a *authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	return nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// actingAddress resolves the identity a command acts on behalf of. An
// authenticated caller may only act as the token subject.
func actingAddress(caller callerInfo, raw, field string) ([20]byte, *RPCError) {
	if !caller.authenticated {
		return parseAddressParam(raw, field)
	}
	if strings.TrimSpace(raw) == "" {
		return caller.address, nil
	}
	addr, rpcErr := parseAddressParam(raw, field)
	if rpcErr != nil {
		return [20]byte{}, rpcErr
	}
	if addr != caller.address {
		return [20]byte{}, &RPCError{Code: codeAuctionForbidden, Message: fmt.Sprintf("%s does not match the authenticated caller", field)}
	}
	return addr, nil
}
