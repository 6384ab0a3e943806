package common

// AuthorizationHeaderName carries the bearer access token on inbound requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "

// RefreshTokenCookieName is the HTTP-only cookie that transports the refresh token.
const RefreshTokenCookieName = "refreshToken"
