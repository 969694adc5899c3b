package services

import "texstream/internal/core/domain"

type nopMetrics struct{}

func (nopMetrics) RecordFrameSent(domain.FrameStats) {}
func (nopMetrics) RecordFrameDropped(string)         {}
func (nopMetrics) RecordSendFailure()                {}
func (nopMetrics) RecordFrameReceived(int)           {}
func (nopMetrics) RecordReceiveError(string)         {}
func (nopMetrics) RecordThroughput(int)              {}
func (nopMetrics) RecordPoolStats(uint64, uint64)    {}
