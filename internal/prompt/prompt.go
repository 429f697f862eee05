// internal/prompt/prompt.go

// Package prompt is the interactive terminal surface: it collects the
// identifier and operation before a run and resolves the SingleCheck
// decision menus.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/fpalencia/licencia-scraper/internal/classify"
	"github.com/fpalencia/licencia-scraper/internal/decision"
	"github.com/fpalencia/licencia-scraper/internal/rut"
)

// Operation is what the operator wants to do on the booking site.
type Operation int

const (
	OperationCreate Operation = iota
	OperationModify
)

func (o Operation) String() string {
	if o == OperationModify {
		return "modify"
	}
	return "create"
}

// Console reads operator choices line by line. It implements
// decision.Prompter.
type Console struct {
	in     *bufio.Scanner
	out    io.Writer
	logger *zap.Logger
}

func NewConsole(in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{
		in:     bufio.NewScanner(in),
		out:    out,
		logger: logger,
	}
}

// CollectIdentifier asks for a RUT until a valid one is entered. An empty
// line accepts the suggested default, if one is given and valid.
func (c *Console) CollectIdentifier(suggested string) (string, error) {
	for {
		if suggested != "" {
			fmt.Fprintf(c.out, "RUT [%s]: ", suggested)
		} else {
			fmt.Fprint(c.out, "RUT: ")
		}
		line, err := c.readLine()
		if err != nil {
			return "", err
		}
		if line == "" && suggested != "" {
			line = suggested
		}
		normalized := rut.Normalize(line)
		if rut.Valid(normalized) {
			return normalized, nil
		}
		fmt.Fprintln(c.out, "RUT inválido. Formato esperado: 12345678-9")
	}
}

// CollectOperation asks whether to create a new appointment or modify an
// existing one.
func (c *Console) CollectOperation() (Operation, error) {
	for {
		fmt.Fprintln(c.out, "\n¿Qué operación desea realizar?")
		fmt.Fprintln(c.out, "  1. Crear nueva cita")
		fmt.Fprintln(c.out, "  2. Modificar hora existente")
		fmt.Fprint(c.out, "Seleccione una opción (1 o 2): ")

		line, err := c.readLine()
		if err != nil {
			return OperationCreate, err
		}
		switch line {
		case "1":
			return OperationCreate, nil
		case "2":
			return OperationModify, nil
		}
		fmt.Fprintln(c.out, "Opción inválida. Seleccione 1 o 2.")
	}
}

// ErrorAction shows the failed outcome and asks what to do. Choosing manual
// intervention resolves the sub-menu here, so the returned Action is final.
func (c *Console) ErrorAction(outcome classify.Outcome) decision.Action {
	c.describe(outcome)
	for {
		fmt.Fprintln(c.out, "\n¿Qué desea hacer?")
		fmt.Fprintln(c.out, "  1. Continuar monitoreo (ignorar error)")
		fmt.Fprintln(c.out, "  2. Reintentar desde el inicio")
		fmt.Fprintln(c.out, "  3. Pausa para intervención manual")
		fmt.Fprintln(c.out, "  4. Salir del programa")
		fmt.Fprint(c.out, "Seleccione una opción (1-4): ")

		line, err := c.readLine()
		if err != nil {
			return decision.Stop
		}
		switch line {
		case "1":
			c.logger.Info("Operator chose to continue monitoring")
			return decision.ContinueMonitoring
		case "2":
			c.logger.Info("Operator chose to retry from scratch")
			return decision.RetryFromScratch
		case "3":
			return c.manualIntervention()
		case "4":
			c.logger.Info("Operator chose to stop")
			return decision.Stop
		}
		fmt.Fprintln(c.out, "Opción inválida. Seleccione 1, 2, 3 o 4.")
	}
}

// ResultAction shows a definitive outcome and asks whether to keep going.
func (c *Console) ResultAction(outcome classify.Outcome) decision.Action {
	c.describe(outcome)
	for {
		fmt.Fprintln(c.out, "\n¿Qué desea hacer?")
		fmt.Fprintln(c.out, "  1. Continuar monitoreo")
		fmt.Fprintln(c.out, "  2. Reintentar desde el inicio")
		fmt.Fprintln(c.out, "  3. Salir del programa")
		fmt.Fprint(c.out, "Seleccione una opción (1-3): ")

		line, err := c.readLine()
		if err != nil {
			return decision.Stop
		}
		switch line {
		case "1":
			return decision.ContinueMonitoring
		case "2":
			return decision.RetryFromScratch
		case "3":
			return decision.Stop
		}
		fmt.Fprintln(c.out, "Opción inválida. Seleccione 1, 2 o 3.")
	}
}

// manualIntervention loops until the operator is done poking at the
// browser. "Mantener pausa" waits for ENTER and shows the menu again.
func (c *Console) manualIntervention() decision.Action {
	for {
		fmt.Fprintln(c.out, "\nIntervención manual: el navegador queda en su estado actual.")
		fmt.Fprintln(c.out, "¿Qué desea hacer después de la intervención manual?")
		fmt.Fprintln(c.out, "  1. Continuar desde el estado actual")
		fmt.Fprintln(c.out, "  2. Reiniciar completamente")
		fmt.Fprintln(c.out, "  3. Mantener pausa (seguir interviniendo)")
		fmt.Fprintln(c.out, "  4. Salir del programa")
		fmt.Fprint(c.out, "Seleccione una opción (1-4): ")

		line, err := c.readLine()
		if err != nil {
			return decision.Stop
		}
		switch line {
		case "1":
			return decision.RetryKeepSession
		case "2":
			return decision.RetryFromScratch
		case "3":
			fmt.Fprint(c.out, "\nPresione ENTER cuando termine su intervención...")
			if _, err := c.readLine(); err != nil {
				return decision.Stop
			}
		case "4":
			return decision.Stop
		default:
			fmt.Fprintln(c.out, "Opción inválida. Seleccione 1, 2, 3 o 4.")
		}
	}
}

func (c *Console) describe(outcome classify.Outcome) {
	fmt.Fprintf(c.out, "\nResultado: %s", outcome.Status)
	if outcome.Status == classify.StatusError {
		fmt.Fprintf(c.out, " (%s)", outcome.Kind)
	}
	fmt.Fprintln(c.out)
	if outcome.Detail != "" {
		fmt.Fprintf(c.out, "  %s\n", outcome.Detail)
	}
	for _, msg := range outcome.RawMessages {
		fmt.Fprintf(c.out, "  > %s\n", msg)
	}
	if outcome.URL != "" {
		fmt.Fprintf(c.out, "  URL: %s\n", outcome.URL)
	}
}

func (c *Console) readLine() (string, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}
