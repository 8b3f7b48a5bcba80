package gameobserver

// Manual verification (no live cs2 process is available in this
// environment, so these are not automated tests):
//
//  1. Launch cs2, join a server as a spectator, and start cs2obs
//     pointed at the running process. Confirm Players() returns a
//     non-empty slice once the local controller resolves.
//  2. Switch spectator target between players and confirm exactly one
//     Player in the batch has ActivePlayer set, matching the HUD's
//     current POV.
//  3. Die as the local player and confirm the local entity drops out
//     of the published batch (poller filters Health <= 0) while
//     Players() itself still reports it with LifeState != Alive.
//  4. Pick up and drop a weapon and confirm Weapon/Weapons update
//     within one poll interval without a restart.
