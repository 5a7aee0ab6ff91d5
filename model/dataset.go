package model

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DataSet holds paired observations for a regression fit.
type DataSet struct {
	X []float64
	Y []float64
}

// RegressionFunc evaluates a regression model at x for a parameter vector.
type RegressionFunc func(x float64, theta []float64) float64

// Line is theta[0] + theta[1]*x.
func Line(x float64, theta []float64) float64 {
	return theta[0] + theta[1]*x
}

// Monod is the saturation model theta[0]*x/(theta[1]+x).
func Monod(x float64, theta []float64) float64 {
	return theta[0] * x / (theta[1] + x)
}

// ReadDataSet parses whitespace-separated "x y" lines. Empty lines and
// lines starting with '#' are skipped.
func ReadDataSet(r io.Reader) (*DataSet, error) {
	d := &DataSet{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		fields := strings.Fields(s)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want two columns, got %d", line, len(fields))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		d.X = append(d.X, x)
		d.Y = append(d.Y, y)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(d.X) == 0 {
		return nil, fmt.Errorf("empty data set")
	}
	return d, nil
}

// Nobs returns the number of observations.
func (d *DataSet) Nobs() int {
	return len(d.X)
}

// SumOfSquares builds the misfit evaluator for a regression model over the
// data set, a single observation block.
func (d *DataSet) SumOfSquares(f RegressionFunc) SSFunc {
	return func(theta []float64) []float64 {
		var ss float64
		for i, x := range d.X {
			r := d.Y[i] - f(x, theta)
			ss += r * r
		}
		return []float64{ss}
	}
}

// ReadFloats converts a string of floats into a slice of float64.
func ReadFloats(s string) ([]float64, error) {
	r := strings.NewReader(s)
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var result []float64
	for scanner.Scan() {
		x, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return result, err
		}
		result = append(result, x)
	}
	return result, scanner.Err()
}
