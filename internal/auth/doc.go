// Package auth authenticates connecting callers.
//
// Authentication is optional. When auth.jwt_secret is configured the stream
// endpoint is wrapped in Middleware, and every handshake must carry an HS256
// token either as
//
//	Authorization: Bearer <token>
//
// or as the access_token query parameter. The token's sub claim is stored in
// the request context (see SubjectFromContext) and becomes the user id stamped
// on every event of the conversations that connection drives, overriding any
// user_id the client claims in its envelopes.
//
// Tokens for development clients are minted with JWTVerifier.Issue, which the
// converse-gateway token subcommand exposes.
package auth
