// Package value implements the dynamic property values carried by objects.
//
// A Value is a tagged union over null, bool, int, float, string and nested maps.
// Maps keep insertion order so that object descriptions and wire encodings are
// stable. Schemas describe the expected kind of each property and convert raw
// upstream data when a provider describes an object.
package value
