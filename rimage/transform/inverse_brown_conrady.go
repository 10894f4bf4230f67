package transform

// invertBrownConrady finds the undistorted point whose forward Brown-Conrady projection is
// (xd, yd). It runs Newton-Raphson on the 2x2 Jacobian of the forward model, starting from the
// distorted point.
func invertBrownConrady(bc *BrownConrady, xd, yd float64) (float64, float64) {
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-10

	k1, k2, k3 := bc.RadialK1, bc.RadialK2, bc.RadialK3
	p1, p2 := bc.TangentialP1, bc.TangentialP2
	for i := 0; i < maxIterations; i++ {
		xdEst, ydEst := bc.Distort(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		radDist := 1.0 + k1*r2 + k2*r4 + k3*r4*r2
		// d(radDist)/dr² times 2, so the partials below are u * dRad.
		dRad := 2.0 * (k1 + 2.0*k2*r2 + 3.0*k3*r4)

		// J = [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]]
		dxdDxu := radDist + xu*xu*dRad + 2.0*p1*yu + 6.0*p2*xu
		dxdDyu := xu*yu*dRad + 2.0*p1*xu + 2.0*p2*yu
		dydDxu := yu*xu*dRad + 2.0*p2*yu + 2.0*p1*xu
		dydDyu := radDist + yu*yu*dRad + 2.0*p2*xu + 6.0*p1*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}

		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}
