package lib

import (
	"fmt"
	"math"
)

// ErrorI is the error type every component of this module returns;
// it carries a stable code and the module the error originated from
type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	// Constructs a new Error instance
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code, and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal     ErrorCode = 1
	CodeJSONUnmarshal   ErrorCode = 2
	CodeWriteFile       ErrorCode = 3
	CodeReadFile        ErrorCode = 4
	CodeStringToBytes   ErrorCode = 5
	CodeInvalidArgument ErrorCode = 6

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeMinerNotInRound            ErrorCode = 1
	CodeTimeSlotViolation          ErrorCode = 2
	CodeInvalidSignature           ErrorCode = 3
	CodeDuplicateSubmission        ErrorCode = 4
	CodeOrderInvariantViolation    ErrorCode = 5
	CodeRoundSequenceViolation     ErrorCode = 6
	CodeRoundNotFound              ErrorCode = 7
	CodeTinyBlockCapExceeded       ErrorCode = 8
	CodeMinerListChanged           ErrorCode = 9
	CodeInvalidImpliedHeight       ErrorCode = 10
	CodeStaleCommitments           ErrorCode = 11
	CodeTermThresholdNotMet        ErrorCode = 12
	CodeInvalidRound               ErrorCode = 13
	CodeWrongExtraBlockProducer    ErrorCode = 14
	CodeEmptyMinerList             ErrorCode = 15
	CodeHeaderTimeNotMonotonic     ErrorCode = 16
	CodeHeaderTimeTooFarInFuture   ErrorCode = 17
	CodeMissingUpdateValue         ErrorCode = 18
	CodeUnknownTransition          ErrorCode = 19
	CodeElectionServiceUnavailable ErrorCode = 20
	CodeImpliedHeightDecreased     ErrorCode = 21

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB      ErrorCode = 1
	CodeCloseDB     ErrorCode = 2
	CodeCommitDB    ErrorCode = 3
	CodeStoreSet    ErrorCode = 4
	CodeStoreGet    ErrorCode = 5
	CodeStoreDelete ErrorCode = 6
	CodeStoreIter   ErrorCode = 7
)

// MAIN MODULE ERRORS BELOW

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("jsonMarshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("jsonUnmarshal() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrStringToBytes(err error) ErrorI {
	return NewError(CodeStringToBytes, MainModule, fmt.Sprintf("stringToBytes() failed with err: %s", err.Error()))
}

func ErrInvalidArgument() ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "the argument is invalid")
}

// CONSENSUS MODULE ERRORS BELOW

func ErrMinerNotInRound(miner string) ErrorI {
	return NewError(CodeMinerNotInRound, ConsensusModule, fmt.Sprintf("mining permission denied: miner %s is not a slot of the round", miner))
}

func ErrTimeSlotViolation(msg string) ErrorI {
	return NewError(CodeTimeSlotViolation, ConsensusModule, fmt.Sprintf("time slot violation: %s", msg))
}

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, ConsensusModule, "the signature does not match the re-derived value")
}

func ErrDuplicateSubmission(miner string) ErrorI {
	return NewError(CodeDuplicateSubmission, ConsensusModule, fmt.Sprintf("duplicate submission: out value already set for miner %s this round", miner))
}

func ErrOrderInvariantViolation(msg string) ErrorI {
	return NewError(CodeOrderInvariantViolation, ConsensusModule, fmt.Sprintf("order invariant violation: %s", msg))
}

func ErrRoundSequenceViolation(msg string) ErrorI {
	return NewError(CodeRoundSequenceViolation, ConsensusModule, fmt.Sprintf("round sequence violation: %s", msg))
}

func ErrRoundNotFound(roundNumber uint64) ErrorI {
	return NewError(CodeRoundNotFound, ConsensusModule, fmt.Sprintf("round %d not found", roundNumber))
}

func ErrTinyBlockCapExceeded(miner string) ErrorI {
	return NewError(CodeTinyBlockCapExceeded, ConsensusModule, fmt.Sprintf("time slot violation: tiny block cap exceeded for miner %s", miner))
}

func ErrMinerListChanged() ErrorI {
	return NewError(CodeMinerListChanged, ConsensusModule, "round sequence violation: miner list continuity broken without an authorized term change")
}

func ErrInvalidImpliedHeight(got, want uint64) ErrorI {
	return NewError(CodeInvalidImpliedHeight, ConsensusModule, fmt.Sprintf("implied irreversible height %d does not equal the produced block height %d", got, want))
}

func ErrImpliedHeightDecreased(got, prior uint64) ErrorI {
	return NewError(CodeImpliedHeightDecreased, ConsensusModule, fmt.Sprintf("implied irreversible height %d is below the previously reported %d", got, prior))
}

func ErrStaleCommitments() ErrorI {
	return NewError(CodeStaleCommitments, ConsensusModule, "a fresh round must carry null out values and signatures")
}

func ErrTermThresholdNotMet() ErrorI {
	return NewError(CodeTermThresholdNotMet, ConsensusModule, "the time based term change threshold is not satisfied")
}

func ErrInvalidRound(msg string) ErrorI {
	return NewError(CodeInvalidRound, ConsensusModule, fmt.Sprintf("the round is invalid: %s", msg))
}

func ErrWrongExtraBlockProducer(miner string) ErrorI {
	return NewError(CodeWrongExtraBlockProducer, ConsensusModule, fmt.Sprintf("miner %s is not the designated extra block producer", miner))
}

func ErrEmptyMinerList() ErrorI {
	return NewError(CodeEmptyMinerList, ConsensusModule, "the miner list is empty")
}

func ErrHeaderTimeNotMonotonic() ErrorI {
	return NewError(CodeHeaderTimeNotMonotonic, ConsensusModule, "time slot violation: the block header time is not after the previous block time")
}

func ErrHeaderTimeTooFarInFuture() ErrorI {
	return NewError(CodeHeaderTimeTooFarInFuture, ConsensusModule, "time slot violation: the block header time exceeds the allowed future drift")
}

func ErrMissingUpdateValue(miner string) ErrorI {
	return NewError(CodeMissingUpdateValue, ConsensusModule, fmt.Sprintf("tiny block requires a prior update value from miner %s this round", miner))
}

func ErrUnknownTransition() ErrorI {
	return NewError(CodeUnknownTransition, ConsensusModule, "unknown consensus transition kind")
}

func ErrElectionServiceUnavailable(err error) ErrorI {
	return NewError(CodeElectionServiceUnavailable, ConsensusModule, fmt.Sprintf("the election service failed with err: %s", err.Error()))
}

// STORAGE MODULE ERRORS BELOW

func ErrOpenDB(err error) ErrorI {
	return NewError(CodeOpenDB, StorageModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) ErrorI {
	return NewError(CodeCloseDB, StorageModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrCommitDB(err error) ErrorI {
	return NewError(CodeCommitDB, StorageModule, fmt.Sprintf("commitDB() failed with err: %s", err.Error()))
}

func ErrStoreSet(err error) ErrorI {
	return NewError(CodeStoreSet, StorageModule, fmt.Sprintf("store.Set() failed with err: %s", err.Error()))
}

func ErrStoreGet(err error) ErrorI {
	return NewError(CodeStoreGet, StorageModule, fmt.Sprintf("store.Get() failed with err: %s", err.Error()))
}

func ErrStoreDelete(err error) ErrorI {
	return NewError(CodeStoreDelete, StorageModule, fmt.Sprintf("store.Delete() failed with err: %s", err.Error()))
}

func ErrStoreIter(err error) ErrorI {
	return NewError(CodeStoreIter, StorageModule, fmt.Sprintf("store iterator failed with err: %s", err.Error()))
}
