// Package ir provides the canonical data types of the field computation
// engine: values, tokens, flat computations, syntax tree nodes and the
// filter sets handed to fetch resolvers.
//
// This package contains type definitions and their wire codecs only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value, Token and Element are sealed interfaces; consumers switch
//     exhaustively over them
//   - JSON shape inspection happens only in DecodeToken, at the boundary
//   - Content-addressed keys use MarshalCanonical (RFC 8785) with domain
//     separated SHA-256
package ir
