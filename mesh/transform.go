package mesh

// Transform is a rigid motion: rotate, then translate.
// p' = Rotation(p) + Translation
type Transform struct {
	Rotation    Rotation `json:"rotation"`
	Translation Point3   `json:"translation"`
}

// IdentityTransform returns a transform that leaves points unchanged
func IdentityTransform() Transform {
	return Transform{Rotation: IdentityRotation}
}

// Apply transforms a single point
func (t Transform) Apply(p Point3) Point3 {
	return t.Rotation.Apply(p).Add(t.Translation)
}

// ApplyAll transforms multiple points into a new slice
func (t Transform) ApplyAll(points []Point3) []Point3 {
	result := make([]Point3, len(points))
	for i, p := range points {
		result[i] = t.Apply(p)
	}
	return result
}

// MultiplyTransforms composes two transforms: result = outer * inner.
// Applying result is equivalent to applying inner first, then outer.
func MultiplyTransforms(outer, inner Transform) Transform {
	return Transform{
		Rotation:    Compose(outer.Rotation, inner.Rotation),
		Translation: outer.Rotation.Apply(inner.Translation).Add(outer.Translation),
	}
}

// InvertTransform computes the inverse of a rigid transform.
// Rigid transforms are always invertible.
func InvertTransform(t Transform) Transform {
	inv := t.Rotation.Inverse()
	return Transform{
		Rotation:    inv,
		Translation: inv.Apply(t.Translation.Neg()),
	}
}
