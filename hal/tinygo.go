//go:build tinygo && baremetal

package hal

import (
	"machine"
)

// board is the Pico 2 (RP2350) HAL. It has no panel and no keyboard: the
// monitor is skipped and the UART log is the only output.
type board struct {
	log   *uartLogger
	ticks *tickSource
}

// New returns the board HAL.
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 115200 8N1.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})

	return &board{
		log:   &uartLogger{uart: uart},
		ticks: startTickSource(tickPeriod),
	}
}

func (b *board) Logger() Logger   { return b.log }
func (b *board) Display() Display { return noPanel{} }
func (b *board) Input() Input     { return noKeys{} }
func (b *board) Time() Time       { return b.ticks }

type noPanel struct{}

func (noPanel) Framebuffer() Framebuffer { return nil }

type noKeys struct{}

func (noKeys) Keyboard() Keyboard { return nil }
