// Package syntax converts flat token streams into syntax trees and back.
//
// Parse scans a stream once, left to right, keeping an explicit stack of open
// frames rooted at a single root frame. A frame buffers its items and is
// reduced when its closer arrives:
//
//  1. items are split into comma-separated segments
//  2. infix operator chains inside a segment are grouped by precedence
//  3. adjacent inline elements are coalesced into a synthetic merge node
//  4. the closer decides the node kind
//
// Serialize is the inverse for trees produced by Parse:
// Parse(Serialize(t)) is structurally equal to t.
package syntax
