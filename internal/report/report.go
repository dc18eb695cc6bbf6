// Package report renders an explained prediction as a one page PNG report.
package report

import (
	"bytes"
	"cmp"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Renderer draws reports. It holds parsed fonts only and is safe for
// concurrent use.
type Renderer struct {
	fonts [2]*truetype.Font
}

// NewRenderer parses the embedded Go fonts.
func NewRenderer() (*Renderer, error) {
	reg, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("%w: parse regular font: %w", domain.ErrRenderFailed, err)
	}
	b, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("%w: parse bold font: %w", domain.ErrRenderFailed, err)
	}
	return &Renderer{fonts: [2]*truetype.Font{regular: reg, bold: b}}, nil
}

var defaultRenderer = sync.OnceValues(NewRenderer)

// Render draws a report with the shared default renderer.
func Render(exp *domain.Explanation, app *domain.Application) (*bytes.Buffer, error) {
	r, err := defaultRenderer()
	if err != nil {
		return nil, err
	}
	return r.Render(exp, app)
}

// Render draws the report for exp. app defaults to the application stored
// in the explanation. The output depends only on its inputs.
func (r *Renderer) Render(exp *domain.Explanation, app *domain.Application) (buf *bytes.Buffer, err error) {
	if exp == nil {
		return nil, fmt.Errorf("%w: explanation is required", domain.ErrInvalidInput)
	}
	if app == nil {
		app = &exp.Application
	}
	if app.PersonIncome <= 0 {
		return nil, fmt.Errorf("%w: person_income must be positive", domain.ErrInvalidInput)
	}

	defer func() {
		if rec := recover(); rec != nil {
			buf, err = nil, fmt.Errorf("%w: %v", domain.ErrRenderFailed, rec)
		}
	}()

	c := newCanvas(r.fonts)
	defer c.close()

	drawHeader(c, exp)
	drawScore(c.axes(0.08, 0.58, 0.38, 0.30), exp)
	drawImpact(c.axes(0.54, 0.58, 0.38, 0.30), exp.Attributions)
	drawMetrics(c.axes(0.08, 0.15, 0.38, 0.38), app, exp.RiskFactors)
	drawImprovements(c.axes(0.54, 0.15, 0.38, 0.38), app, exp.Decision)

	buf = new(bytes.Buffer)
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(buf, c.dc.Image()); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", domain.ErrRenderFailed, err)
	}
	return buf, nil
}

func decisionColor(decision int) color.NRGBA {
	if decision == domain.DecisionApproved {
		return colorGreen
	}
	return colorRed
}

func drawHeader(c *canvas, exp *domain.Explanation) {
	label := "REJECTED"
	if exp.Approved() {
		label = "APPROVED"
	}
	c.text(label, 0.5, 0.96, alignCenter, bold, 56, decisionColor(exp.Decision))
	c.text("LOAN APPLICATION ANALYSIS", 0.5, 0.92, alignCenter, regular, 14, withAlpha(colorText, 0.6))
	c.text(exp.CreatedAt.Format("January 02, 2006"), 0.5, 0.05, alignCenter, regular, 9, withAlpha(colorText, 0.4))
}

// Band names the approval probability.
func Band(p float64) string {
	switch {
	case p > 0.8:
		return "EXCELLENT"
	case p > 0.6:
		return "GOOD"
	case p > 0.4:
		return "FAIR"
	}
	return "LOW"
}

func drawScore(a *axes, exp *domain.Explanation) {
	const lim = 1.3
	sq := a.square(lim)
	col := decisionColor(exp.Decision)
	dc := a.c.dc

	x, y := sq.figure(0, 1.2)
	a.c.text("APPROVAL SCORE", x, y, alignCenter, bold, 13, colorText)

	dc.DrawCircle(sq.x(0), sq.y(0), sq.scale)
	dc.SetLineWidth(points(20))
	dc.SetColor(colorGray)
	dc.Stroke()

	p := math.Min(math.Max(exp.Probability, 0), 1)
	if p > 0 {
		start := -math.Pi / 2
		end := start + p*2*math.Pi
		outer, inner := sq.scale, 0.8*sq.scale
		dc.NewSubPath()
		dc.DrawArc(sq.x(0), sq.y(0), outer, start, end)
		dc.DrawArc(sq.x(0), sq.y(0), inner, end, start)
		dc.ClosePath()
		dc.SetColor(withAlpha(col, 0.9))
		dc.Fill()
	}

	x, y = sq.figure(0, 0)
	a.c.text(fmt.Sprintf("%.1f%%", exp.Probability*100), x, y, alignCentered, bold, 32, col)
	x, y = sq.figure(0, -0.4)
	a.c.text(Band(exp.Probability), x, y, alignCenter, bold, 12, col)
}

// CleanLabel reduces an attribution description to its feature name for
// display, at most 15 characters.
func CleanLabel(description string) string {
	name := description
	for _, tok := range strings.FieldsFunc(description, func(r rune) bool {
		return r == '=' || r == '<' || r == '>' || r == ' '
	}) {
		if _, err := strconv.ParseFloat(tok, 64); err != nil {
			name = tok
			break
		}
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if utf8.RuneCountInString(name) > 15 {
		name = string([]rune(name)[:15])
	}
	return name
}

// impactSplit returns up to four positive and four negative attributions
// from the eight largest by magnitude, and the largest magnitude.
func impactSplit(attrs []domain.Attribution) (pos, neg []domain.Attribution, maxWeight float64) {
	top := topByMagnitude(attrs, 8)
	maxWeight = 1
	if len(top) > 0 {
		maxWeight = math.Abs(top[0].Weight)
	}
	for _, a := range top {
		switch {
		case a.Weight > 0 && len(pos) < 4:
			pos = append(pos, a)
		case a.Weight < 0 && len(neg) < 4:
			neg = append(neg, a)
		}
	}
	return pos, neg, maxWeight
}

// topByMagnitude returns the n attributions with the largest absolute
// weight, keeping input order among ties.
func topByMagnitude(attrs []domain.Attribution, n int) []domain.Attribution {
	out := slices.Clone(attrs)
	slices.SortStableFunc(out, func(a, b domain.Attribution) int {
		return cmp.Compare(math.Abs(b.Weight), math.Abs(a.Weight))
	})
	return out[:min(n, len(out))]
}

func drawImpact(a *axes, attrs []domain.Attribution) {
	a.text("IMPACT ANALYSIS", 0.5, 0.95, alignCenter, bold, 13, colorText)

	pos, neg, maxWeight := impactSplit(attrs)

	column := func(title string, items []domain.Attribution, center, barX float64, col color.NRGBA) {
		a.text(title, center, 0.85, alignCenter, bold, 11, col)
		y := 0.75
		for _, item := range items {
			w := 0.0
			if maxWeight > 0 {
				w = math.Abs(item.Weight) / maxWeight * 0.2
			}
			a.rect(barX, y, w, 0.06, withAlpha(col, 0.8))
			a.text(CleanLabel(item.Feature), center, y+0.03, alignCenter, regular, 8, colorText)
			y -= 0.15
		}
	}
	column("POSITIVE", pos, 0.25, 0.05, colorGreen)
	column("NEGATIVE", neg, 0.75, 0.75, colorRed)
}

// Rating names a credit score and picks its colour.
func Rating(score int) string {
	name, _ := rating(score)
	return name
}

func rating(score int) (string, color.NRGBA) {
	switch {
	case score >= 750:
		return "EXCELLENT", colorGreen
	case score >= 700:
		return "GOOD", colorAmber
	case score >= 650:
		return "FAIR", colorOrange
	}
	return "POOR", colorRed
}

func metrics(app *domain.Application) [][2]string {
	return [][2]string{
		{"INCOME", "$" + humanize.Commaf(app.PersonIncome)},
		{"LOAN", "$" + humanize.Commaf(app.LoanAmount)},
		{"DTI", fmt.Sprintf("%.0f%%", app.LoanPercentIncome()*100)},
		{"WORK", fmt.Sprintf("%dy", app.PersonEmpExp)},
		{"CREDIT AGE", fmt.Sprintf("%dy", app.CreditHistoryLength)},
		{"DEFAULTS", app.PreviousLoanDefaultsOnFile},
	}
}

// RiskLine joins the first two risk factors for the metrics panel.
func RiskLine(factors []string) string {
	line := strings.Join(factors[:min(2, len(factors))], " • ")
	if utf8.RuneCountInString(line) > 40 {
		line = string([]rune(line)[:40])
	}
	return line
}

func drawMetrics(a *axes, app *domain.Application, risks []string) {
	a.text("KEY METRICS", 0.5, 0.95, alignCenter, bold, 13, colorText)

	name, col := rating(app.CreditScore)
	fill := math.Min(math.Max(float64(app.CreditScore-300)/550, 0), 1)
	a.rect(0.1, 0.78, 0.8, 0.1, colorGray)
	if fill > 0 {
		a.rect(0.1, 0.78, 0.8*fill, 0.1, withAlpha(col, 0.9))
	}
	a.text(strconv.Itoa(app.CreditScore), 0.5, 0.83, alignCentered, bold, 24, colorWhite)
	a.text(name, 0.5, 0.72, alignCenter, bold, 11, col)

	y := 0.60
	for i, m := range metrics(app) {
		x := 0.15
		if i%2 == 1 {
			x = 0.6
		}
		a.text(m[0], x, y, alignLeft, regular, 8, withAlpha(colorText, 0.6))
		a.text(m[1], x, y-0.05, alignLeft, bold, 14, colorText)
		if i%2 == 1 {
			y -= 0.15
		}
	}

	if len(risks) > 0 {
		a.text("RISKS", 0.5, 0.08, alignCenter, bold, 10, colorRed)
		a.text(RiskLine(risks), 0.5, 0.02, alignCenter, regular, 8, colorRed)
	}
}

// Tip is one improvement suggestion.
type Tip struct {
	Title string
	Text  string
}

// Tips suggests improvements for a rejected application. Approved or
// unflagged applications get maintenance tips.
func Tips(app *domain.Application, decision int) []Tip {
	var tips []Tip
	if app.CreditScore < 700 {
		tips = append(tips, Tip{"CREDIT SCORE", fmt.Sprintf("Target 700+\nCurrent: %d", app.CreditScore)})
	}
	if dti := app.LoanPercentIncome() * 100; dti > 40 {
		tips = append(tips, Tip{"DEBT RATIO", fmt.Sprintf("Reduce to <40%%\nCurrent: %.0f%%", dti)})
	}
	if app.CreditHistoryLength < 5 {
		tips = append(tips, Tip{"CREDIT AGE", fmt.Sprintf("Build to 5+ years\nCurrent: %dy", app.CreditHistoryLength)})
	}
	if app.PersonEmpExp < 2 {
		tips = append(tips, Tip{"EMPLOYMENT", "Gain work history\nTarget: 2+ years"})
	}
	if app.HasPreviousDefaults() {
		tips = append(tips, Tip{"DEFAULTS", "Rebuild trust\nConsider secured credit"})
	}

	if len(tips) == 0 || decision == domain.DecisionApproved {
		return []Tip{
			{"MAINTAIN", "Keep current habits"},
			{"MONITOR", "Check credit reports"},
			{"SAVE", "Build emergency fund"},
		}
	}
	return tips[:min(5, len(tips))]
}

func drawImprovements(a *axes, app *domain.Application, decision int) {
	a.text("HOW TO IMPROVE", 0.5, 0.95, alignCenter, bold, 13, colorText)

	y := 0.85
	for _, tip := range Tips(app, decision) {
		a.roundedRect(0.05, y-0.1, 0.9, 0.12, 0.01, withAlpha(colorGray, 0.3))
		a.text(tip.Title, 0.1, y-0.02, alignLeft, bold, 10, colorText)
		a.text(tip.Text, 0.1, y-0.08, alignLeft, regular, 8, withAlpha(colorText, 0.8))
		y -= 0.16
	}
}
