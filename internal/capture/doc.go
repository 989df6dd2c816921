// Package capture turns device callbacks into sequenced sample blocks.
//
// A Device invokes its Handler once per block from its own execution context.
// The Source copies each block and offers it to the assembler intake without
// waiting: when the intake is full the block is dropped and counted.
package capture
