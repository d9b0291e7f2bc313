// Package jesd204 orchestrates bring-up of JESD204 links.
//
// Devices (converters, clock chips, FPGA link cores) register a table of
// stage callbacks with a Registry. A Topology groups registered devices
// around one top device and the links it carries. An FSM walks the fixed
// stage sequence over the topology, invoking every callback per device or
// per link. Callbacks report DONE, DEFER when the hardware is not ready
// yet, or ERROR. The FSM never blocks: callers re-run Start until the
// bring-up is done, usually through a RetryPolicy or a control loop.
package jesd204
