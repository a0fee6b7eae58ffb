package types

// Mat3x4 is a row-major affine transform. The last column holds the
// translation; the implicit fourth row is (0, 0, 0, 1).
type Mat3x4 [3][4]float32

// Create identity transform.
func Ident3x4() Mat3x4 {
	return Mat3x4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// Create a translation transform.
func Translate3x4(t Vec3) Mat3x4 {
	return Mat3x4{
		{1, 0, 0, t[0]},
		{0, 1, 0, t[1]},
		{0, 0, 1, t[2]},
	}
}

// Create a non-uniform scale transform.
func Scale3x4(s Vec3) Mat3x4 {
	return Mat3x4{
		{s[0], 0, 0, 0},
		{0, s[1], 0, 0},
		{0, 0, s[2], 0},
	}
}

// Compose two transforms. The returned transform applies m2 first and then m.
func (m Mat3x4) Mul(m2 Mat3x4) Mat3x4 {
	var out Mat3x4
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			v := m[r][0]*m2[0][c] + m[r][1]*m2[1][c] + m[r][2]*m2[2][c]
			if c == 3 {
				v += m[r][3]
			}
			out[r][c] = v
		}
	}
	return out
}

// Transform a point.
func (m Mat3x4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		m[0][0]*p[0] + m[0][1]*p[1] + m[0][2]*p[2] + m[0][3],
		m[1][0]*p[0] + m[1][1]*p[1] + m[1][2]*p[2] + m[1][3],
		m[2][0]*p[0] + m[2][1]*p[1] + m[2][2]*p[2] + m[2][3],
	}
}

// Transform a direction vector (translation is ignored).
func (m Mat3x4) TransformVector(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// Transform a normal using the inverse transpose of the linear part. The
// caller supplies the inverse transform.
func (inv Mat3x4) TransformNormal(n Vec3) Vec3 {
	return Vec3{
		inv[0][0]*n[0] + inv[1][0]*n[1] + inv[2][0]*n[2],
		inv[0][1]*n[0] + inv[1][1]*n[1] + inv[2][1]*n[2],
		inv[0][2]*n[0] + inv[1][2]*n[1] + inv[2][2]*n[2],
	}
}

// Calculate the inverse of an affine transform. If the linear part is
// singular the identity transform is returned along with false.
func (m Mat3x4) Inverse() (Mat3x4, bool) {
	a, b, c := m[0][0], m[0][1], m[0][2]
	d, e, f := m[1][0], m[1][1], m[1][2]
	g, h, i := m[2][0], m[2][1], m[2][2]

	A := e*i - f*h
	B := -(d*i - f*g)
	C := d*h - e*g
	det := a*A + b*B + c*C
	if det > -floatCmpEpsilon && det < floatCmpEpsilon {
		return Ident3x4(), false
	}
	invDet := 1.0 / det

	var out Mat3x4
	out[0][0] = A * invDet
	out[0][1] = -(b*i - c*h) * invDet
	out[0][2] = (b*f - c*e) * invDet
	out[1][0] = B * invDet
	out[1][1] = (a*i - c*g) * invDet
	out[1][2] = -(a*f - c*d) * invDet
	out[2][0] = C * invDet
	out[2][1] = -(a*h - b*g) * invDet
	out[2][2] = (a*e - b*d) * invDet

	t := Vec3{m[0][3], m[1][3], m[2][3]}
	for r := 0; r < 3; r++ {
		out[r][3] = -(out[r][0]*t[0] + out[r][1]*t[1] + out[r][2]*t[2])
	}
	return out, true
}
