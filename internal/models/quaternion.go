package models

import "math"

// slerpLinearThreshold 点积超过该值时两个姿态几乎重合，退化为线性插值
const slerpLinearThreshold = 0.9995

// Quaternion 姿态四元数，分量顺序与数据文件一致 (x, y, z, w)
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity 单位四元数
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// Norm 模长
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize 归一化；零四元数返回单位四元数
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) {
		return Identity()
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// Dot 点积
func (q Quaternion) Dot(o Quaternion) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Neg 取反 (表示同一旋转)
func (q Quaternion) Neg() Quaternion {
	return Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: -q.W}
}

// Mul Hamilton 积，q.Mul(o) 先施加 o 再施加 q
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Slerp 球面线性插值，t ∈ [0,1]
// 走短弧；两者几乎相同时用线性插值后归一化
func Slerp(a, b Quaternion, t float64) Quaternion {
	a = a.Normalize()
	b = b.Normalize()

	dot := a.Dot(b)
	if dot < 0 {
		b = b.Neg()
		dot = -dot
	}

	if dot > slerpLinearThreshold {
		return Quaternion{
			X: a.X + t*(b.X-a.X),
			Y: a.Y + t*(b.Y-a.Y),
			Z: a.Z + t*(b.Z-a.Z),
			W: a.W + t*(b.W-a.W),
		}.Normalize()
	}

	if dot > 1 {
		dot = 1
	}
	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta0 := math.Sin(theta0)

	s0 := math.Sin(theta0-theta) / sinTheta0
	s1 := math.Sin(theta) / sinTheta0
	return Quaternion{
		X: s0*a.X + s1*b.X,
		Y: s0*a.Y + s1*b.Y,
		Z: s0*a.Z + s1*b.Z,
		W: s0*a.W + s1*b.W,
	}.Normalize()
}

// Attitude 欧拉角 (度)
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Euler 按外旋 x-y-z 顺序分解: roll 绕 x, pitch 绕 y, yaw 绕 z
func (q Quaternion) Euler() Attitude {
	q = q.Normalize()

	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	if sinp > 1 {
		sinp = 1
	} else if sinp < -1 {
		sinp = -1
	}
	pitch := math.Asin(sinp)

	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	return Attitude{
		Roll:  roll * 180 / math.Pi,
		Pitch: pitch * 180 / math.Pi,
		Yaw:   yaw * 180 / math.Pi,
	}
}
